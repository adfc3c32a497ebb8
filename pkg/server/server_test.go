package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/nstogner/nbtool/pkg/editor"
	"github.com/nstogner/nbtool/pkg/executor"
	"github.com/nstogner/nbtool/pkg/export"
	"github.com/nstogner/nbtool/pkg/kernel"
	"github.com/nstogner/nbtool/pkg/kernel/kerneltest"
	"github.com/nstogner/nbtool/pkg/notebook"
	"github.com/nstogner/nbtool/pkg/server"
	"github.com/nstogner/nbtool/pkg/service"
	"github.com/nstogner/nbtool/pkg/tools"
	"github.com/nstogner/nbtool/pkg/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	clk := clockwork.NewFakeClock()
	store := notebook.NewStore(notebook.WithClock(clk))
	coord := executor.New(kernel.NewRegistry(&kerneltest.Launcher{Clock: clk}, time.Second), store, executor.WithClock(clk))
	reg := tools.NewDefault(tools.Backends{
		Documents: service.New(store),
		Runner:    coord,
		Exporter:  export.New(store, nil),
		Workflows: workflow.New(store, coord, editor.Nop{}),
	})
	ts := httptest.NewServer(server.New(reg, coord).Handler())
	t.Cleanup(ts.Close)

	path := filepath.Join(t.TempDir(), "s.ipynb")
	nb := notebook.New("Server")
	nb.Cells = append(nb.Cells, nb.NewCell(notebook.CellCode, "1 + 1"))
	if _, err := store.Save(nb, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return ts, path
}

func postTool(t *testing.T, ts *httptest.Server, name string, body any) (int, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+"/api/tools/"+name, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", name, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding %s response: %v", name, err)
	}
	return resp.StatusCode, out
}

func TestHealthAndTools(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/tools")
	if err != nil {
		t.Fatalf("GET /api/tools: %v", err)
	}
	defer resp.Body.Close()
	var list []struct {
		Name        string         `json:"name"`
		InputSchema map[string]any `json:"input_schema"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decoding tools: %v", err)
	}
	if len(list) != 30 {
		t.Errorf("got %d tools, want 30", len(list))
	}
	if list[0].Name != "add_cell" || list[0].InputSchema["type"] != "object" {
		t.Errorf("first tool = %+v", list[0])
	}
}

func TestCallTool(t *testing.T) {
	ts, path := newTestServer(t)

	status, out := postTool(t, ts, "read_notebook", map[string]any{"notebook_path": path})
	if status != http.StatusOK || out["success"] != true || out["cells_count"] != float64(1) {
		t.Errorf("read_notebook = %d %v", status, out)
	}

	status, out = postTool(t, ts, "get_cell", map[string]any{"notebook_path": path, "cell_index": 4})
	if status != http.StatusOK || out["success"] != false {
		t.Errorf("get_cell(4) = %d %v", status, out)
	}

	status, out = postTool(t, ts, "no_such_tool", map[string]any{})
	if status != http.StatusNotFound || out["success"] != false {
		t.Errorf("unknown tool = %d %v", status, out)
	}

	resp, err := http.Post(ts.URL+"/api/tools/read_notebook", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}
}

func TestKernelStatusAndMetrics(t *testing.T) {
	ts, path := newTestServer(t)
	if status, out := postTool(t, ts, "execute_cell", map[string]any{"notebook_path": path, "cell_index": 0}); status != http.StatusOK || out["success"] != true {
		t.Fatalf("execute_cell = %d %v", status, out)
	}

	resp, err := http.Get(ts.URL + "/api/kernel")
	if err != nil {
		t.Fatal(err)
	}
	var ks struct {
		Current   kernel.Status `json:"current_kernel"`
		Available []string      `json:"available_kernels"`
	}
	err = json.NewDecoder(resp.Body).Decode(&ks)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decoding kernel status: %v", err)
	}
	if ks.Current.State != kernel.StateRunning || len(ks.Available) != 1 {
		t.Errorf("kernel status = %+v", ks)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"nbtool_tool_calls_total", "nbtool_cell_executions_total", `path="POST /api/tools/{name}"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestExecuteWebSocket(t *testing.T) {
	ts, path := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/execute"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]any{"notebook_path": path, "cell_index": 0}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var types []string
	var summary string
	for {
		var ev struct {
			Type    string         `json:"type"`
			Summary string         `json:"summary"`
			Output  map[string]any `json:"output"`
			Result  *struct {
				Success bool `json:"success"`
			} `json:"result"`
		}
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		types = append(types, ev.Type)
		if ev.Type == "output" {
			summary = ev.Summary
			if ev.Output["output_type"] != "stream" || ev.Output["name"] != "stdout" || ev.Output["text"] != "1 + 1\n" {
				t.Errorf("streamed output = %v", ev.Output)
			}
		}
		if ev.Type == "result" {
			if ev.Result == nil || !ev.Result.Success {
				t.Errorf("result = %+v", ev.Result)
			}
			break
		}
	}
	if strings.Join(types, ",") != "output,result" {
		t.Errorf("event types = %v", types)
	}
	if summary != "1 + 1\n" {
		t.Errorf("streamed summary = %q", summary)
	}

	if err := ws.WriteJSON(map[string]any{"cell_index": 0}); err != nil {
		t.Fatal(err)
	}
	var ev map[string]any
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev["type"] != "error" {
		t.Errorf("missing path event = %v", ev)
	}
}
