package server

import "github.com/ryazanovegor/oliva-space/internal/domain"

// TaskResponse is the wire form of a task. Price travels as a string so
// clients never lose precision to float rounding.
type TaskResponse struct {
	ID          int64   `json:"id" example:"1"`
	CustomerID  string  `json:"customer_id" example:"100200300"`
	PerformerID *string `json:"performer_id,omitempty" example:"400500600"`
	Text        string  `json:"text" example:"Write a short post about space"`
	Price       string  `json:"price" example:"150.00"`
	Status      string  `json:"status" enum:"open,in_progress,submitted,cancelled,done" example:"open"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

func toTaskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		CustomerID:  t.CustomerID,
		PerformerID: t.PerformerID,
		Text:        t.Text,
		Price:       t.Price.StringFixed(2),
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
	}
}

func toTaskResponses(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	return out
}
