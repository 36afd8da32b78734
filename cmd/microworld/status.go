package main

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/microworld/stage/internal/app"
	"github.com/microworld/stage/internal/compile"
)

// compileStatus is the observer behind the bridge. It runs on the UI loop.
type compileStatus struct {
	recorder *app.Recorder
	log      *zap.Logger

	diags  []compile.Diagnostic
	failed atomic.Int32
}

func newCompileStatus(r *app.Recorder, log *zap.Logger) *compileStatus {
	return &compileStatus{recorder: r, log: log.Named("status")}
}

func names(sources []compile.Source) string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.Name
	}
	return strings.Join(out, ",")
}

func (s *compileStatus) StartCompile(_ context.Context, sources []compile.Source) error {
	s.diags = s.diags[:0]
	s.log.Debug("compiling", zap.String("units", names(sources)))
	return nil
}

func (s *compileStatus) Diagnostic(_ context.Context, d compile.Diagnostic) error {
	s.diags = append(s.diags, d)
	if d.Severity == compile.SeverityError {
		printFail(d.String())
	} else {
		fmt.Printf("    %s\n", paint("33", d.String()))
	}
	return nil
}

func (s *compileStatus) EndCompile(_ context.Context, sources []compile.Source, success bool) error {
	units := names(sources)
	result := "ok"
	if !success {
		result = "failed"
		s.failed.Add(1)
	}
	s.log.Info("compiled", zap.String("units", units), zap.Bool("success", success),
		zap.Int("diagnostics", len(s.diags)))
	s.recorder.Record("compile", units, result)
	return nil
}

// Failed is the number of failed jobs so far.
func (s *compileStatus) Failed() int { return int(s.failed.Load()) }
