package domain_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/npsg-lab/simq/domain"
)

func f64(v float64) *float64 { return &v }

// abmbSpec is a cut-down version of a real leaf-radiation model schema,
// exercising every parameter kind.
func abmbSpec() *domain.ModelSpec {
	return &domain.ModelSpec{
		ShortName:  "abmb_c",
		FullName:   "ABM-B",
		Version:    "1",
		Executable: "/opt/models/abmb",
		Parameters: []domain.ParameterSpec{
			{Name: "nSamples", Kind: domain.KindInteger, Default: "10000",
				RangeStart: f64(1000), RangeEnd: f64(100000), Step: f64(1)},
			{Name: "angleOfIncidence", Kind: domain.KindFloat, Default: "8",
				RangeStart: f64(0), RangeEnd: f64(360), Step: f64(0.1), Units: "degrees"},
			{Name: "wavelengths", Kind: domain.KindRange,
				RangeStart: f64(400), RangeEnd: f64(2500), Step: f64(5), Units: "nm"},
			{Name: "sieveDetourEffects", Kind: domain.KindBoolean, Default: "true"},
			{Name: "specimenLabel", Kind: domain.KindString},
			{Name: "surface", Kind: domain.KindSelect, Options: []string{"adaxial", "abaxial"}},
		},
		Attachments: []string{"spectral_distribution.csv"},
	}
}

func validParams(t *testing.T, spec *domain.ModelSpec) map[string]domain.ParameterValue {
	t.Helper()
	raw := map[string]string{
		"nSamples":           "10000",
		"angleOfIncidence":   "8",
		"wavelengths":        "400:2500",
		"sieveDetourEffects": "true",
		"specimenLabel":      "soybean",
		"surface":            "adaxial",
	}
	params := make(map[string]domain.ParameterValue, len(raw))
	for _, p := range spec.Parameters {
		v, err := p.ParseValue(raw[p.Name])
		if err != nil {
			t.Fatalf("ParseValue(%s): %v", p.Name, err)
		}
		params[p.Name] = v
	}
	return params
}

// TestParseValue_Kinds checks form-string parsing for every parameter kind.
func TestParseValue_Kinds(t *testing.T) {
	spec := abmbSpec()

	tests := []struct {
		param string
		raw   string
		check func(v domain.ParameterValue) bool
	}{
		{"nSamples", "2000", func(v domain.ParameterValue) bool { return v.IntVal == 2000 }},
		{"nSamples", "", func(v domain.ParameterValue) bool { return v.IntVal == 10000 }}, // default
		{"angleOfIncidence", "45.5", func(v domain.ParameterValue) bool { return v.FloatVal == 45.5 }},
		{"wavelengths", "500:900", func(v domain.ParameterValue) bool { return v.RangeFrom == 500 && v.RangeTo == 900 }},
		{"wavelengths", "", func(v domain.ParameterValue) bool { return v.RangeFrom == 400 && v.RangeTo == 2500 }},
		{"sieveDetourEffects", "on", func(v domain.ParameterValue) bool { return v.BoolVal }},
		{"sieveDetourEffects", "false", func(v domain.ParameterValue) bool { return !v.BoolVal }},
		{"specimenLabel", "maple", func(v domain.ParameterValue) bool { return v.StrVal == "maple" }},
		{"surface", "abaxial", func(v domain.ParameterValue) bool { return v.StrVal == "abaxial" }},
	}
	for _, tt := range tests {
		p := spec.Parameter(tt.param)
		if p == nil {
			t.Fatalf("no parameter %s", tt.param)
		}
		v, err := p.ParseValue(tt.raw)
		if err != nil {
			t.Errorf("ParseValue(%s, %q): %v", tt.param, tt.raw, err)
			continue
		}
		if !tt.check(v) {
			t.Errorf("ParseValue(%s, %q) = %+v, check failed", tt.param, tt.raw, v)
		}
	}
}

// TestParseValue_Malformed checks that garbage input is rejected, not zeroed.
func TestParseValue_Malformed(t *testing.T) {
	spec := abmbSpec()
	tests := []struct{ param, raw string }{
		{"nSamples", "ten thousand"},
		{"angleOfIncidence", "north"},
		{"wavelengths", "400"},
		{"wavelengths", "a:b"},
	}
	for _, tt := range tests {
		p := spec.Parameter(tt.param)
		if _, err := p.ParseValue(tt.raw); !errors.Is(err, domain.ErrParameterInvalid) {
			t.Errorf("ParseValue(%s, %q): want ErrParameterInvalid, got %v", tt.param, tt.raw, err)
		}
	}
}

// TestValidate_Bounds checks constraint enforcement, including the
// below-minimum sample count that must reject a submission outright.
func TestValidate_Bounds(t *testing.T) {
	spec := abmbSpec()

	nSamples := spec.Parameter("nSamples")
	bad := domain.ParameterValue{Kind: domain.KindInteger, IntVal: -5}
	if err := nSamples.Validate(bad); !errors.Is(err, domain.ErrParameterInvalid) {
		t.Fatalf("nSamples=-5: want ErrParameterInvalid, got %v", err)
	}
	good := domain.ParameterValue{Kind: domain.KindInteger, IntVal: 1000}
	if err := nSamples.Validate(good); err != nil {
		t.Fatalf("nSamples=1000: %v", err)
	}

	wavelengths := spec.Parameter("wavelengths")
	inverted := domain.ParameterValue{Kind: domain.KindRange, RangeFrom: 900, RangeTo: 500}
	if err := wavelengths.Validate(inverted); !errors.Is(err, domain.ErrParameterInvalid) {
		t.Fatalf("inverted range: want ErrParameterInvalid, got %v", err)
	}
	outside := domain.ParameterValue{Kind: domain.KindRange, RangeFrom: 100, RangeTo: 500}
	if err := wavelengths.Validate(outside); !errors.Is(err, domain.ErrParameterInvalid) {
		t.Fatalf("out-of-bounds range: want ErrParameterInvalid, got %v", err)
	}

	surface := spec.Parameter("surface")
	wrongOption := domain.ParameterValue{Kind: domain.KindSelect, StrVal: "lateral"}
	if err := surface.Validate(wrongOption); !errors.Is(err, domain.ErrParameterInvalid) {
		t.Fatalf("bad select option: want ErrParameterInvalid, got %v", err)
	}

	kindMismatch := domain.ParameterValue{Kind: domain.KindString, StrVal: "10"}
	if err := nSamples.Validate(kindMismatch); !errors.Is(err, domain.ErrParameterInvalid) {
		t.Fatalf("kind mismatch: want ErrParameterInvalid, got %v", err)
	}
}

// TestValidateAssignment rejects unknown and missing parameters.
func TestValidateAssignment(t *testing.T) {
	spec := abmbSpec()
	params := validParams(t, spec)

	if err := spec.ValidateAssignment(params); err != nil {
		t.Fatalf("valid assignment rejected: %v", err)
	}

	extra := make(map[string]domain.ParameterValue, len(params)+1)
	for k, v := range params {
		extra[k] = v
	}
	extra["bogus"] = domain.ParameterValue{Kind: domain.KindString, StrVal: "x"}
	if err := spec.ValidateAssignment(extra); !errors.Is(err, domain.ErrParameterInvalid) {
		t.Fatalf("unknown parameter accepted: %v", err)
	}

	delete(params, "surface")
	if err := spec.ValidateAssignment(params); !errors.Is(err, domain.ErrParameterInvalid) {
		t.Fatalf("missing parameter accepted: %v", err)
	}
}

// TestTaskWireRoundTrip checks serialize-then-deserialize equality under
// parameter-value semantics.
func TestTaskWireRoundTrip(t *testing.T) {
	spec := abmbSpec()
	task := &domain.Task{
		ID:           "11111111-2222-3333-4444-555555555555",
		ModelName:    "abmb_c",
		ModelVersion: "1",
		EmailAddress: "researcher@example.org",
		Parameters:   validParams(t, spec),
	}

	wire, err := task.MarshalWire()
	if err != nil {
		t.Fatalf("MarshalWire: %v", err)
	}
	back, err := domain.TaskFromWire(wire)
	if err != nil {
		t.Fatalf("TaskFromWire: %v", err)
	}
	if back.ID != task.ID {
		t.Errorf("ID = %q, want %q", back.ID, task.ID)
	}
	if !task.EqualParameters(back) {
		t.Errorf("round-trip task differs: %+v vs %+v", task, back)
	}

	// Lifecycle fields must never cross the wire.
	var decoded map[string]any
	if err := json.Unmarshal(wire, &decoded); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	for _, field := range []string{"state", "confirmationCode", "createdAt"} {
		if _, ok := decoded[field]; ok {
			t.Errorf("wire shape leaks %q", field)
		}
	}
}

// TestTaskFromWire_Malformed rejects tasks with no model identity.
func TestTaskFromWire_Malformed(t *testing.T) {
	for _, raw := range []string{
		`{"emailAddress":"a@b.c"}`,
		`{"modelName":"abmb_c"}`,
		`not json at all`,
	} {
		if _, err := domain.TaskFromWire([]byte(raw)); !errors.Is(err, domain.ErrTaskInvalid) {
			t.Errorf("TaskFromWire(%q): want ErrTaskInvalid, got %v", raw, err)
		}
	}
}

// TestTaskValidate checks the minimum submission fields.
func TestTaskValidate(t *testing.T) {
	task := &domain.Task{ModelName: "abmb_c", ModelVersion: "1", EmailAddress: "user@example.org"}
	if err := task.Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}
	task.EmailAddress = "not-an-address"
	if err := task.Validate(); !errors.Is(err, domain.ErrTaskInvalid) {
		t.Fatalf("bad email accepted: %v", err)
	}
}

// TestTaskStates exercises the terminal-state helper.
func TestTaskStates(t *testing.T) {
	terminal := map[domain.TaskState]bool{
		domain.TaskStateUnconfirmed: false,
		domain.TaskStateRunnable:    false,
		domain.TaskStateInFlight:    false,
		domain.TaskStateDone:        true,
		domain.TaskStateFailed:      true,
		domain.TaskStateExpired:     true,
	}
	for state, want := range terminal {
		task := &domain.Task{State: state}
		if got := task.IsTerminal(); got != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", state, got, want)
		}
	}
}

// TestVersionSetSupports checks version membership.
func TestVersionSetSupports(t *testing.T) {
	set := domain.VersionSet{"abmb_c": {"1", "2"}, "abmu_c": {"3"}}
	tests := []struct {
		model, version string
		want           bool
	}{
		{"abmb_c", "1", true},
		{"abmb_c", "2", true},
		{"abmb_c", "3", false},
		{"abmu_c", "3", true},
		{"unknown", "1", false},
	}
	for _, tt := range tests {
		if got := set.Supports(tt.model, tt.version); got != tt.want {
			t.Errorf("Supports(%s, %s) = %v, want %v", tt.model, tt.version, got, tt.want)
		}
	}
}

// TestDisplayString checks human-readable formatting used in report tables.
func TestDisplayString(t *testing.T) {
	tests := []struct {
		v     domain.ParameterValue
		units string
		want  string
	}{
		{domain.ParameterValue{Kind: domain.KindInteger, IntVal: 10000}, "", "10000"},
		{domain.ParameterValue{Kind: domain.KindFloat, FloatVal: 8}, "degrees", "8 degrees"},
		{domain.ParameterValue{Kind: domain.KindRange, RangeFrom: 400, RangeTo: 2500}, "nm", "400 to 2500 nm"},
		{domain.ParameterValue{Kind: domain.KindBoolean, BoolVal: true}, "", "yes"},
		{domain.ParameterValue{Kind: domain.KindSelect, StrVal: "adaxial"}, "", "adaxial"},
	}
	for _, tt := range tests {
		if got := tt.v.DisplayString(tt.units); got != tt.want {
			t.Errorf("DisplayString = %q, want %q", got, tt.want)
		}
	}
}

// TestParameterValueJSON checks that every kind survives JSON encoding.
func TestParameterValueJSON(t *testing.T) {
	values := []domain.ParameterValue{
		{Kind: domain.KindInteger, IntVal: 42},
		{Kind: domain.KindFloat, FloatVal: 1.66e-4},
		{Kind: domain.KindRange, RangeFrom: 400, RangeTo: 2500},
		{Kind: domain.KindBoolean, BoolVal: true},
		{Kind: domain.KindString, StrVal: "soybean"},
		{Kind: domain.KindSelect, StrVal: "adaxial"},
	}
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %s: %v", v.Kind, err)
		}
		if !strings.Contains(string(data), string(v.Kind)) {
			t.Errorf("encoded %s value lacks type tag: %s", v.Kind, data)
		}
		var back domain.ParameterValue
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", v.Kind, err)
		}
		if !v.Equal(back) {
			t.Errorf("round trip %s: %+v != %+v", v.Kind, v, back)
		}
	}
}
