package api

import (
	"net/http"

	"github.com/shaiso/mediaflow/internal/orchestrator"
)

// ListFlows возвращает определения flow, отсортированные по имени.
// GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, _ *http.Request) {
	flows := orchestrator.SortedFlows(h.producer.Flows())

	result := make([]FlowResponse, len(flows))
	for i, f := range flows {
		result[i] = FlowFromDefinition(f)
	}

	List(w, result, len(result))
}

// flowNames возвращает имена известных flow по алфавиту.
func (h *Handler) flowNames() []string {
	flows := orchestrator.SortedFlows(h.producer.Flows())
	names := make([]string, len(flows))
	for i, f := range flows {
		names[i] = f.Name
	}
	return names
}
