package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"warden/internal/tooling"
)

// printer writes results as markdown on a terminal and JSON elsewhere.
type printer struct {
	out    io.Writer
	render *glamour.TermRenderer
}

func newPrinter(out io.Writer, forceJSON bool) *printer {
	p := &printer{out: out}
	if forceJSON {
		return p
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			p.render = r
		}
	}
	return p
}

func (p *printer) Result(res tooling.Result) error {
	if p.render == nil {
		return p.json(res)
	}
	out, err := p.render.Render(res.Markdown())
	if err != nil {
		_, err = fmt.Fprint(p.out, res.Markdown())
		return err
	}
	_, err = fmt.Fprint(p.out, out)
	return err
}

func (p *printer) Results(results []tooling.Result) error {
	if p.render == nil {
		return p.json(results)
	}
	for _, res := range results {
		if err := p.Result(res); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
