package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vash"
	"github.com/hupe1980/vash/codec"
	"github.com/hupe1980/vash/manifest"
	"github.com/hupe1980/vash/match"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("%w: unknown output format %q", vash.ErrInvalidConfiguration, format)
	}
}

type trainOutput struct {
	Run         string                  `json:"run" yaml:"run"`
	Manifest    uint64                  `json:"manifest" yaml:"manifest"`
	Videos      int                     `json:"videos" yaml:"videos"`
	Descriptors int                     `json:"descriptors" yaml:"descriptors"`
	Words       int                     `json:"words" yaml:"words"`
	Iterations  int                     `json:"iterations" yaml:"iterations"`
	Converged   bool                    `json:"converged" yaml:"converged"`
	Skipped     []manifest.SkippedVideo `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Duration    string                  `json:"duration" yaml:"duration"`
}

func newTrainOutput(r *vash.TrainReport) trainOutput {
	return trainOutput{
		Run:         r.Manifest.RunID,
		Manifest:    r.Manifest.ID,
		Videos:      r.Videos,
		Descriptors: r.Descriptors,
		Words:       r.Manifest.VocabularySize,
		Iterations:  r.Iterations,
		Converged:   r.Converged,
		Skipped:     r.Manifest.Skipped,
		Duration:    r.Duration.Round(time.Millisecond).String(),
	}
}

type queryOutput struct {
	Query       string         `json:"query" yaml:"query"`
	Run         string         `json:"run" yaml:"run"`
	Metric      string         `json:"metric" yaml:"metric"`
	Descriptors int            `json:"descriptors" yaml:"descriptors"`
	Results     []match.Result `json:"results" yaml:"results"`
}

func newQueryOutput(path string, r *vash.QueryReport) queryOutput {
	return queryOutput{
		Query:       path,
		Run:         r.Manifest.RunID,
		Metric:      r.Manifest.Metric,
		Descriptors: r.Descriptors,
		Results:     r.Results,
	}
}

type runOutput struct {
	Manifest    uint64    `json:"manifest" yaml:"manifest"`
	Run         string    `json:"run" yaml:"run"`
	Current     bool      `json:"current" yaml:"current"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	Videos      int       `json:"videos" yaml:"videos"`
	Skipped     int       `json:"skipped" yaml:"skipped"`
	Words       int       `json:"words" yaml:"words"`
	Metric      string    `json:"metric" yaml:"metric"`
	Compression string    `json:"compression" yaml:"compression"`
}

func newRunOutputs(runs []*manifest.Manifest, current uint64) []runOutput {
	out := make([]runOutput, len(runs))
	for i, m := range runs {
		out[i] = runOutput{
			Manifest:    m.ID,
			Run:         m.RunID,
			Current:     m.ID == current,
			CreatedAt:   m.CreatedAt,
			Videos:      m.Videos,
			Skipped:     len(m.Skipped),
			Words:       m.VocabularySize,
			Metric:      m.Metric,
			Compression: m.Compression,
		}
	}
	return out
}

// render writes v as JSON or YAML, or calls table for the table format.
func render(w io.Writer, format string, v any, table func(*tabwriter.Writer)) error {
	switch format {
	case formatJSON:
		data, err := codec.GoJSON{}.Marshal(v)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

func renderTrain(w io.Writer, format string, out trainOutput) error {
	return render(w, format, out, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "run\t%s\n", out.Run)
		fmt.Fprintf(tw, "manifest\t%d\n", out.Manifest)
		fmt.Fprintf(tw, "videos\t%d\n", out.Videos)
		fmt.Fprintf(tw, "skipped\t%d\n", len(out.Skipped))
		fmt.Fprintf(tw, "descriptors\t%d\n", out.Descriptors)
		fmt.Fprintf(tw, "words\t%d\n", out.Words)
		fmt.Fprintf(tw, "iterations\t%d\n", out.Iterations)
		fmt.Fprintf(tw, "converged\t%t\n", out.Converged)
		fmt.Fprintf(tw, "duration\t%s\n", out.Duration)
		for _, s := range out.Skipped {
			fmt.Fprintf(tw, "skip\t%s\t%s\n", s.Identity, s.Reason)
		}
	})
}

func renderQuery(w io.Writer, format string, out queryOutput) error {
	return render(w, format, out, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "RANK\tSCORE\tSEQ\tVIDEO")
		for i, r := range out.Results {
			fmt.Fprintf(tw, "%d\t%.4f\t%d\t%s\n", i+1, r.Score, r.Identity.Seq, r.Identity.Name)
		}
	})
}

func renderRuns(w io.Writer, format string, out []runOutput) error {
	return render(w, format, out, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "MANIFEST\tRUN\tCREATED\tVIDEOS\tSKIPPED\tWORDS\tMETRIC\tCOMPRESSION\t")
		for _, r := range out {
			marker := ""
			if r.Current {
				marker = "*"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
				r.Manifest, r.Run, r.CreatedAt.Format(time.RFC3339), r.Videos, r.Skipped, r.Words, r.Metric, r.Compression, marker)
		}
	})
}
