// Command classify-bounce runs saved raw messages through the inbound
// parsers and prints what the pipeline would conclude, without touching any
// store. Useful when tuning bounce heuristics against real samples.
//
//	classify-bounce [-json] [-sender addr] file.eml [file.eml ...]
//	classify-bounce - < message.eml
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ignite/leadmap-mailflow/internal/bounce"
	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/notification"
)

type report struct {
	Source     string                                 `json:"source"`
	Kind       string                                 `json:"kind"`
	DSN        *domain.DeliveryStatusNotification     `json:"dsn,omitempty"`
	Severity   domain.Severity                        `json:"severity,omitempty"`
	MDN        *domain.MessageDispositionNotification `json:"mdn,omitempty"`
	Complaint  *domain.ComplaintReport                `json:"complaint,omitempty"`
	Bounce     *domain.Bounce                         `json:"bounce,omitempty"`
	ParseError string                                 `json:"parse_error,omitempty"`
}

func main() {
	asJSON := flag.Bool("json", false, "print one JSON object per message")
	sender := flag.String("sender", "", "original envelope sender, excluded from recipient guessing")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: classify-bounce [-json] [-sender addr] file... (use - for stdin)")
		os.Exit(2)
	}

	classifier := bounce.New()
	failed := 0
	for _, path := range args {
		raw, err := readSource(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		r := describe(classifier, path, raw, *sender)
		if r.ParseError != "" {
			failed++
		}
		if *asJSON {
			out, _ := json.Marshal(r)
			fmt.Println(string(out))
			continue
		}
		printReport(os.Stdout, r)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func readSource(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// describe mirrors the inbound pipeline's routing: MDN first, then ARF
// feedback, then DSN, then heuristic bounce detection.
func describe(c *bounce.Classifier, source string, raw []byte, sender string) report {
	r := report{Source: source}
	h, body, err := notification.ParseMessage(raw)
	if err != nil {
		r.Kind = "malformed"
		r.ParseError = err.Error()
		return r
	}

	switch {
	case notification.IsMDN(h):
		r.Kind = "mdn"
		r.MDN = notification.ProcessMDN(h, body)
		return r
	case notification.IsFeedbackReport(h):
		r.Kind = "complaint"
		r.Complaint = notification.ProcessFeedbackReport(h, body)
		return r
	case notification.IsDSN(h):
		r.Kind = "dsn"
		r.DSN = notification.ProcessDSN(h, body)
		if r.DSN != nil {
			r.Severity = notification.ClassifySeverity(r.DSN)
		}
	default:
		r.Kind = "message"
	}
	r.Bounce = c.Process(h, body, sender)
	return r
}

func printReport(w io.Writer, r report) {
	fmt.Fprintln(w, "---------------------------------------------------------")
	fmt.Fprintf(w, "Source:        %s\n", r.Source)
	fmt.Fprintf(w, "Kind:          %s\n", r.Kind)
	if r.ParseError != "" {
		fmt.Fprintf(w, "Parse error:   %s\n", r.ParseError)
		return
	}
	if r.MDN != nil {
		fmt.Fprintf(w, "Disposition:   %s (read receipt: %t)\n", r.MDN.Disposition, notification.IsReadReceipt(r.MDN))
		fmt.Fprintf(w, "Recipient:     %s\n", r.MDN.FinalRecipient)
		fmt.Fprintf(w, "Original ID:   %s\n", r.MDN.OriginalMessageID)
	}
	if r.Complaint != nil {
		fmt.Fprintf(w, "Feedback type: %s\n", r.Complaint.FeedbackType)
		fmt.Fprintf(w, "Recipient:     %s\n", r.Complaint.Recipient)
	}
	if r.DSN != nil {
		fmt.Fprintf(w, "DSN action:    %s\n", r.DSN.Action)
		fmt.Fprintf(w, "DSN status:    %s (%s)\n", r.DSN.Status, r.Severity)
	}
	if r.Bounce != nil {
		cl := r.Bounce.Classification
		fmt.Fprintf(w, "Recipient:     %s\n", r.Bounce.Recipient)
		fmt.Fprintf(w, "Bounce:        %s / %s\n", cl.Type, cl.Category)
		fmt.Fprintf(w, "Retryable:     %t\n", cl.Retryable)
		fmt.Fprintf(w, "Suppress:      %t\n", cl.ShouldSuppress)
		if d := strings.TrimSpace(r.Bounce.Diagnostic); d != "" {
			fmt.Fprintf(w, "Diagnostic:    %s\n", d)
		}
	} else if r.Kind == "dsn" || r.Kind == "message" {
		fmt.Fprintln(w, "Bounce:        none (no recipient found)")
	}
}
