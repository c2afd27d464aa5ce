// Package report exports harness results: a JSON summary per run and a CSV
// stream of every mismatching element.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/FlavioCFOliveira/crcheck/internal/harness"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
)

// MaxListed bounds the mismatches listed per case in the JSON summary.
const MaxListed = 20

// Summary converts results into a generic structure ready for encoding.
func Summary(results []*harness.Result) (*structpb.Struct, error) {
	cases := make([]any, 0, len(results))
	passed := 0
	for _, r := range results {
		if r.Passed() {
			passed++
		}
		cases = append(cases, caseSummary(r))
	}
	return structpb.NewStruct(map[string]any{
		"cases":  cases,
		"total":  len(results),
		"passed": passed,
		"failed": len(results) - passed,
	})
}

func caseSummary(r *harness.Result) map[string]any {
	out := r.Output
	mismatches := make([]any, 0, min(len(out.Mismatches), MaxListed))
	for i, m := range out.Mismatches {
		if i == MaxListed {
			break
		}
		mismatches = append(mismatches, map[string]any{
			"index":    m.Index,
			"expected": number(m.Expected),
			"actual":   number(m.Actual),
		})
	}

	s := map[string]any{
		"name":       r.Case.Name,
		"backend":    r.Backend,
		"mode":       r.Case.Params.Mode(),
		"descriptor": descriptor(r.Case.Params),
		"seed":       float64(r.Case.Seed),
		"passed":     r.Passed(),
		"elements":   out.Count,
		"tolerance":  map[string]any{"abs": out.Tol.Abs, "rel": out.Tol.Rel},
		"error": map[string]any{
			"max":  number(out.MaxAbsErr),
			"mean": number(out.MeanAbsErr),
			"p99":  number(out.P99AbsErr),
		},
		"mismatchCount": len(out.Mismatches),
		"mismatches":    mismatches,
		"elapsedMs":     r.Elapsed.Milliseconds(),
	}
	if r.Argmax != nil {
		s["argmaxMismatchCount"] = len(r.Argmax.Mismatches)
	}
	return s
}

// number keeps finite values numeric; JSON has no encoding for NaN or the
// infinities, so those become strings.
func number(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return v
}

func descriptor(d params.Descriptor) map[string]any {
	return map[string]any{
		"numImages":   d.NumImages,
		"inChannels":  d.InChannels,
		"outChannels": d.OutChannels,
		"numGroups":   d.NumGroups,
		"yDim":        d.YDim,
		"xDim":        d.XDim,
		"kSize":       d.KSize,
		"stride":      d.Stride,
		"pad":         d.Pad,
		"pkSize":      d.PKSize,
		"backward":    d.Backward,
		"relu":        d.Relu,
		"pool":        d.Pool,
	}
}

// WriteJSON writes the summary of results to w as indented JSON.
func WriteJSON(w io.Writer, results []*harness.Result) error {
	s, err := Summary(results)
	if err != nil {
		return fmt.Errorf("report: build summary: %w", err)
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}
