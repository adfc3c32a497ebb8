package notebook_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nstogner/nbtool/pkg/notebook"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		out  notebook.Output
		want string
	}{
		{
			name: "stream",
			out:  notebook.Output{OutputType: "stream", Name: "stdout", Text: "1\n"},
			want: "1\n",
		},
		{
			name: "execute_result plain",
			out:  notebook.Output{OutputType: "execute_result", Data: map[string]any{"text/plain": "42", "text/html": "<b>42</b>"}},
			want: "42",
		},
		{
			name: "display_data without plain text",
			out:  notebook.Output{OutputType: "display_data", Data: map[string]any{"image/png": "iVBOR", "text/html": "<img>"}},
			want: "[display_data: image/png, text/html]",
		},
		{
			name: "error",
			out:  notebook.Output{OutputType: "error", EName: "ValueError", Traceback: []string{"Traceback", "ValueError: bad"}},
			want: "Traceback\nValueError: bad",
		},
		{
			name: "unknown",
			out:  notebook.Output{OutputType: "update_display_data"},
			want: "[unknown output: update_display_data]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := notebook.Summarize(tt.out); got != tt.want {
				t.Errorf("Summarize = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutputJSONUsesNbformatKeys(t *testing.T) {
	out := notebook.Output{
		OutputType: notebook.OutputError,
		EName:      "ZeroDivisionError",
		EValue:     "division by zero",
		Traceback:  []string{"Traceback", "ZeroDivisionError: division by zero"},
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := map[string]any{
		"output_type": "error",
		"ename":       "ZeroDivisionError",
		"evalue":      "division by zero",
		"traceback":   []any{"Traceback", "ZeroDivisionError: division by zero"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output JSON (-want +got):\n%s", diff)
	}
}
