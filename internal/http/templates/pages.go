package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

const stylesheet = `body{font-family:system-ui,sans-serif;max-width:42rem;margin:2rem auto;padding:0 1rem;color:#222}
code,pre{background:#f4f4f4;padding:.15rem .35rem;border-radius:3px}
pre{padding:.75rem;overflow-x:auto}
ol{padding-left:1.5rem}
footer{margin-top:3rem;font-size:.85rem;color:#666}`

// HomePage renders the landing page with usage notes and the pending suggestion, if any.
func HomePage(data HomePageData) templ.Component {
	return layout(data.Title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		e := errWriter{w: w}

		e.printf(`<h1>%s</h1>`, esc(data.Title))
		e.printf(`<p>Send a sentence containing <code>%s</code> to <code>POST /suggest_word</code>, then pick one of the ranked words with <code>POST /select_word</code>.</p>`, esc(data.MaskToken))
		e.printf(`<pre>{"sequence": "%s"}</pre>`, esc(data.Example))

		if data.Pending == nil {
			e.printf(`<p>No sentence is waiting for a selection.</p>`)
			return e.err
		}

		e.printf(`<h2>Pending</h2><p>%s</p><ol>`, esc(data.Pending.UserText))
		for _, word := range data.Pending.Words {
			e.printf(`<li value="%s">%s</li>`, esc(word.ID), esc(word.Word))
		}
		e.printf(`</ol>`)

		return e.err
	}))
}

// ErrorPage renders a minimal error view.
func ErrorPage(data ErrorPageData) templ.Component {
	return layout(data.Title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		e := errWriter{w: w}
		e.printf(`<h1>%s</h1><p>%s</p><p><a href="/">Back to the start</a></p>`, esc(data.StatusLabel), esc(data.Message))
		return e.err
	}))
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e := errWriter{w: w}
		e.printf(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title><style>%s</style></head><body><main>`, esc(title), stylesheet)
		if e.err != nil {
			return e.err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		e.printf(`</main><footer>%s</footer></body></html>`, esc(FooterNote))
		return e.err
	})
}

func esc(value string) string {
	return templ.EscapeString(value)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
