// Command pwm-trace prints a CBOR trace written by pwm-demo.
//
// Usage:
//
//	pwm-trace -file trace.cbor [-chip 0] [-op apply]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"pwmcore-go/pwm/trace"
	"pwmcore-go/types"
)

var (
	file   = flag.String("file", "", "Trace file to read (required)")
	chipID = flag.Int("chip", -1, "Only show records for this chip")
	opName = flag.String("op", "", "Only show records for this operation")
	failed = flag.Bool("failed", false, "Only show failed calls")
)

func main() {
	flag.Parse()
	if err := run(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "pwm-trace:", err)
		os.Exit(1)
	}
}

func run(out io.Writer) error {
	if *file == "" {
		return errors.New("-file is required")
	}
	var (
		op     types.TraceOp
		filter bool
	)
	if *opName != "" {
		var ok bool
		if op, ok = types.ParseTraceOp(*opName); !ok {
			return fmt.Errorf("unknown op %q", *opName)
		}
		filter = true
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tOP\tCHIP\tCH\tLABEL\tDETAIL\tERR\tTOOK")
	rd := trace.NewReader(f)
	var shown, total int
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			tw.Flush()
			return fmt.Errorf("record %d: %w", total, err)
		}
		total++
		if *chipID >= 0 && rec.Chip != *chipID {
			continue
		}
		if filter && rec.Op != op {
			continue
		}
		if *failed && rec.Err == "" {
			continue
		}
		shown++
		fmt.Fprintf(tw, "%s\t%.8s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			rec.Time.Format("15:04:05.000000"), rec.Session, rec.Op, rec.Chip,
			channel(rec.Channel), rec.Label, detail(rec), rec.Err, rec.Duration.Round(time.Microsecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%d of %d records\n", shown, total)
	return err
}

func channel(ch int) string {
	if ch < 0 {
		return "-"
	}
	return fmt.Sprint(ch)
}

func detail(rec types.TraceRecord) string {
	switch {
	case rec.State != nil:
		s := rec.State
		if !s.Enabled {
			return "off"
		}
		return fmt.Sprintf("%d/%dns %s", s.DutyNs, s.PeriodNs, s.Polarity)
	case rec.Capture != nil:
		return fmt.Sprintf("cap %d/%dns", rec.Capture.DutyNs, rec.Capture.PeriodNs)
	default:
		return ""
	}
}
