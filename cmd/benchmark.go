package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"llmlatencybench/internal/benchmark"
)

// progressObserver drives one progress bar per trial from orchestrator events
type progressObserver struct {
	out       io.Writer
	streaming bool
	maxOutput int
	bar       *progressbar.ProgressBar
}

func newProgressObserver(out io.Writer, cfg *benchmark.Config) *progressObserver {
	return &progressObserver{out: out, streaming: cfg.Streaming, maxOutput: cfg.MaxOutput}
}

func (p *progressObserver) OnEvent(e benchmark.Event) {
	switch e.Type {
	case benchmark.EventState:
		fmt.Fprintf(p.out, "%s %s\n", color.CyanString("state"), e.State)
	case benchmark.EventWarning:
		fmt.Fprintf(p.out, "%s %s\n", color.YellowString("warning"), e.Message)
	case benchmark.EventCooldown:
		fmt.Fprintf(p.out, "%s %s before trial %d of %s\n", color.BlueString("cooldown"), e.Message, e.Trial, e.Provider)
	case benchmark.EventTrialStart:
		p.startBar(e)
	case benchmark.EventUnits:
		if p.bar != nil {
			p.bar.Add(e.Units)
		}
	case benchmark.EventTrialDone:
		p.finishBar()
		status := color.GreenString("ok")
		if e.Err != "" {
			status = color.RedString("failed: %s", e.Err)
		}
		fmt.Fprintf(p.out, "[%d/%d] %s %s trial %d/%d %s\n", e.Completed, e.Total, e.Provider, e.Model, e.Trial, e.Trials, status)
	}
}

func (p *progressObserver) startBar(e benchmark.Event) {
	p.finishBar()

	description := fmt.Sprintf("%s %s (%d/%d)", e.Provider, e.Model, e.Trial, e.Trials)
	if !p.streaming {
		// sync calls report no units, a spinner is all there is to show
		p.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(description),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
		)
		return
	}

	p.bar = progressbar.NewOptions(p.maxOutput,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("tokens"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *progressObserver) finishBar() {
	if p.bar == nil {
		return
	}
	p.bar.Finish()
	p.bar.Clear()
	p.bar.Close()
	p.bar = nil
}
