package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"unitforge/internal/lifecycle"
	"unitforge/internal/model"
	"unitforge/internal/storage"
	"unitforge/internal/store"
	"unitforge/internal/validate"
)

// errFailed is returned after a failed result has already been printed.
var errFailed = errors.New("operation failed")

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints res and returns errFailed when it did not succeed.
func printResult(w io.Writer, res lifecycle.OperationResult, asJSON bool) error {
	if asJSON {
		out := struct {
			lifecycle.OperationResult
			Error string `json:"error,omitempty"`
		}{res, res.ErrorText()}
		if err := writeJSON(w, out); err != nil {
			return err
		}
	} else {
		writeResultText(w, res)
	}
	if !res.Success {
		return errFailed
	}
	return nil
}

func writeResultText(w io.Writer, res lifecycle.OperationResult) {
	fmt.Fprintln(w, res.Message)
	if res.State != "" {
		fmt.Fprintf(w, "  state: %s\n", res.State)
	}
	if res.Enabled != nil {
		fmt.Fprintf(w, "  enabled: %v\n", *res.Enabled)
	}
	for _, s := range res.Steps {
		line := fmt.Sprintf("  %-12s %s", s.Name, s.Status)
		if s.Message != "" {
			line += "  " + s.Message
		}
		fmt.Fprintln(w, line)
	}
	if res.Validation != nil {
		writeValidationText(w, *res.Validation)
	}
	if res.Err != nil && !isValidationErr(res.Err) {
		fmt.Fprintf(w, "  error: %v\n", res.Err)
	}
	if !res.Success || res.Action == lifecycle.ActionStatus {
		writeBlock(w, "status", res.Status)
		writeBlock(w, "logs", res.Logs)
	}
}

func writeValidationText(w io.Writer, r validate.Result) {
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
}

func writeRuntimeText(w io.Writer, r validate.RuntimeResult) {
	fmt.Fprintf(w, "%s: %s\n", r.Name, r.State)
	writeValidationText(w, r.Result)
	for _, d := range r.Diagnoses {
		fmt.Fprintf(w, "  diagnosis [%s]: %s\n", d.Code, d.Message)
	}
}

func writeBlock(w io.Writer, title, body string) {
	body = strings.TrimRight(body, "\n")
	if body == "" {
		return
	}
	fmt.Fprintf(w, "--- %s ---\n%s\n", title, body)
}

func writeHistoryText(w io.Writer, entries []storage.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no history")
		return
	}
	for _, e := range entries {
		status := "ok"
		switch {
		case !e.OK:
			status = "FAILED"
		case e.NoOp:
			status = "no-op"
		}
		line := fmt.Sprintf("%s  %-8s %-24s %-6s %5dms",
			e.At.Local().Format(time.DateTime), e.Action, e.Target, status, e.TookMS)
		if e.Actor != "" {
			line += "  by " + e.Actor
		}
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Fprintln(w, line)
	}
}

func isValidationErr(err error) bool {
	var ve *model.ValidationError
	return errors.As(err, &ve)
}

// isRecordPath reports whether arg names a record file rather than a service.
func isRecordPath(arg string) bool {
	ext := strings.ToLower(filepath.Ext(arg))
	return slices.Contains([]string{".json", ".yaml", ".yml"}, ext) || strings.ContainsRune(arg, os.PathSeparator)
}

// loadRecord resolves arg as a record file path or a persisted service name.
func loadRecord(records *store.Store, arg string) (*model.ServiceConfiguration, error) {
	if isRecordPath(arg) {
		return store.Load(arg)
	}
	if err := validate.ValidateServiceName(arg); err != nil {
		return nil, err
	}
	return records.Get(arg)
}
