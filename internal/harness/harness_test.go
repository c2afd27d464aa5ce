package harness

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/FlavioCFOliveira/crcheck/internal/compare"
	"github.com/FlavioCFOliveira/crcheck/internal/device"
	"github.com/FlavioCFOliveira/crcheck/internal/layout"
	"github.com/FlavioCFOliveira/crcheck/internal/params"
	"github.com/FlavioCFOliveira/crcheck/internal/tensor"
)

func smallBase(t *testing.T, groups int) params.Descriptor {
	t.Helper()
	d, err := params.NewBuilder().Images(4).Channels(8, 2).Groups(groups).Dims(9, 9).Build()
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func convCase(t *testing.T) Case {
	t.Helper()
	return DefaultCases(smallBase(t, 1))[0]
}

func TestDefaultConvForwardEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size case")
	}
	c := DefaultCases(params.Default())[0]
	res, err := New(device.NewEmulated()).Run(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if want := 24 * 24 * 1 * 256; res.Output.Count != want {
		t.Errorf("compared %d elements, expected %d", res.Output.Count, want)
	}
	if !res.Passed() {
		t.Errorf("default forward convolution failed: %v", res.Err())
	}
}

func TestDefaultCases(t *testing.T) {
	cases := DefaultCases(params.Default())
	want := []struct {
		name      string
		mode      string
		pksize    int
		firstCode uint16
	}{
		{"conv-forward", "conv-forward", 2, 0},
		{"conv-backward", "conv-backward", 2, 0},
		{"pool2-forward", "pool-forward", 2, 0},
		{"pool2-backward", "pool-backward", 2, 0},
		{"pool3-forward", "pool-forward", 3, 0},
		{"pool3-backward", "pool-backward", 3, 2},
	}
	if len(cases) != len(want) {
		t.Fatalf("%d cases, expected %d", len(cases), len(want))
	}
	for i, w := range want {
		c := cases[i]
		if c.Name != w.name || c.Params.Mode() != w.mode || c.Params.PKSize != w.pksize || c.FirstCode != w.firstCode {
			t.Errorf("case %d = %s/%s pk=%d first=%d, expected %s/%s pk=%d first=%d", i,
				c.Name, c.Params.Mode(), c.Params.PKSize, c.FirstCode, w.name, w.mode, w.pksize, w.firstCode)
		}
		if err := c.Params.Validate(); err != nil {
			t.Errorf("%s: %v", c.Name, err)
		}
	}
}

func TestSuitePassesOnEmulatedDevice(t *testing.T) {
	for _, groups := range []int{1, 3} {
		h := New(device.NewEmulated(device.WithLatency(time.Millisecond)))
		results, err := h.RunAll(context.Background(), DefaultCases(smallBase(t, groups).WithRelu()))
		if err != nil {
			t.Fatalf("groups=%d: %v", groups, err)
		}
		if len(results) != 6 {
			t.Fatalf("groups=%d: %d results, expected 6", groups, len(results))
		}
		for _, r := range results {
			if !r.Passed() {
				t.Errorf("groups=%d %s: %v", groups, r.Case.Name, r.Err())
			}
			if r.Backend != "emulated" {
				t.Errorf("backend = %q", r.Backend)
			}
		}
	}
}

func TestRandomArgmaxCodesStayInWindow(t *testing.T) {
	c := DefaultCases(smallBase(t, 2))[5]
	c.Argmax = ArgmaxRandom
	in := c.fill()
	for i, code := range in.aux {
		row, col := layout.DecodeArgmax(code)
		if row >= c.Params.PKSize || col >= c.Params.PKSize {
			t.Fatalf("code %d at %d outside a %dx%d window", code, i, c.Params.PKSize, c.Params.PKSize)
		}
	}

	res, err := New(device.NewEmulated()).Run(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Passed() {
		t.Error(res.Err())
	}
}

func TestFillIsDeterministic(t *testing.T) {
	c := convCase(t)
	a, b := c.fill(), c.fill()
	for i := range a.input {
		if a.input[i] != b.input[i] {
			t.Fatalf("input differs at index %d", i)
		}
	}
	c.Ranges.Bias = tensor.Range{Lo: 5, Hi: 5}
	d := c.fill()
	for i := range a.weights {
		if a.weights[i] != d.weights[i] {
			t.Fatalf("changing the bias range changed weight %d", i)
		}
	}
	for i, v := range d.bias {
		if v != 5 {
			t.Fatalf("bias[%d] = %f, expected 5", i, v)
		}
	}
}

func TestRunReportsFault(t *testing.T) {
	boom := errors.New("kernel fault")
	h := New(device.NewEmulated(device.WithFault(0, boom)))
	_, err := h.Run(context.Background(), convCase(t))
	if !errors.Is(err, ErrDevice) || !errors.Is(err, boom) {
		t.Errorf("Run() = %v, expected ErrDevice wrapping the fault", err)
	}
}

func TestRunTimesOut(t *testing.T) {
	c := convCase(t)
	c.Timeout = 20 * time.Millisecond
	h := New(device.NewEmulated(device.WithHang(0)))

	start := time.Now()
	_, err := h.Run(context.Background(), c)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run() = %v, expected ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestHarnessTimeoutOption(t *testing.T) {
	h := New(device.NewEmulated(device.WithHang(0)), WithTimeout(10*time.Millisecond))
	if _, err := h.Run(context.Background(), convCase(t)); !errors.Is(err, ErrTimeout) {
		t.Errorf("Run() = %v, expected ErrTimeout", err)
	}
}

func TestRunReportsCorruption(t *testing.T) {
	h := New(device.NewEmulated(device.WithCorruption(5, 10)))
	res, err := h.Run(context.Background(), convCase(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Passed() {
		t.Fatal("corrupted output passed")
	}
	if len(res.Output.Mismatches) != 1 {
		t.Fatalf("%d mismatches, expected 1", len(res.Output.Mismatches))
	}
	m := res.Output.Mismatches[0]
	if m.Index != 5 || m.Actual-m.Expected < 9.5 || m.Actual-m.Expected > 10.5 {
		t.Errorf("mismatch = %+v, expected index 5 off by 10", m)
	}
	if !strings.Contains(res.Err().Error(), "[5]") {
		t.Errorf("Err() = %v, expected it to name index 5", res.Err())
	}
}

func TestRunTolerance(t *testing.T) {
	h := New(device.NewEmulated())

	res, err := h.Run(context.Background(), convCase(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Output.Tol != compare.Default || !res.Passed() {
		t.Errorf("nil tolerance: Tol = %+v, passed %t", res.Output.Tol, res.Passed())
	}

	// Binary16 rounding of the output leaves some error, so exact fails.
	c := convCase(t)
	c.Tol = &compare.Tolerance{}
	res, err = h.Run(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Output.Tol != (compare.Tolerance{}) || res.Passed() {
		t.Errorf("zero tolerance: Tol = %+v, passed %t", res.Output.Tol, res.Passed())
	}
}

func TestRunRejectsInvalidDescriptor(t *testing.T) {
	c := convCase(t)
	c.Params.InChannels = 6
	if _, err := New(device.NewEmulated()).Run(context.Background(), c); !errors.Is(err, params.ErrInvalid) {
		t.Errorf("Run() = %v, expected ErrInvalid", err)
	}
}

func TestRunUnavailableBackend(t *testing.T) {
	b := device.NewWebGPU()
	if b.Available() {
		t.Skip("WebGPU present")
	}
	if _, err := New(b).Run(context.Background(), convCase(t)); !errors.Is(err, ErrDevice) || !errors.Is(err, device.ErrUnavailable) {
		t.Errorf("Run() = %v, expected ErrDevice wrapping ErrUnavailable", err)
	}
}

func TestRunAllContinuesAfterFailure(t *testing.T) {
	bad := convCase(t)
	bad.Name = "bad"
	bad.Params.Stride = 0
	cases := []Case{bad, convCase(t)}

	results, err := New(device.NewEmulated()).RunAll(context.Background(), cases)
	if !errors.Is(err, params.ErrInvalid) {
		t.Errorf("RunAll() = %v, expected ErrInvalid", err)
	}
	if len(results) != 1 || results[0].Case.Name != "conv-forward" {
		t.Errorf("results = %v", results)
	}
}

func TestVerboseLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	d, err := params.NewBuilder().Images(1).Channels(4, 1).Dims(2, 2).Relu(true).Build()
	if err != nil {
		t.Fatal(err)
	}
	c := DefaultCases(d)[0]

	if _, err := New(device.NewEmulated(), WithLogger(logger), WithVerbose(true)).Run(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if n := strings.Count(out, " relu: "); n != 4 {
		t.Errorf("%d element lines, expected 4:\n%s", n, out)
	}
	if !strings.Contains(out, "conv-forward [emulated]") || !strings.Contains(out, "PASS") {
		t.Errorf("missing summary line:\n%s", out)
	}
}
