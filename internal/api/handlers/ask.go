package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cloo-solutions/creditrust/internal/api"
	"github.com/cloo-solutions/creditrust/internal/api/middleware"
	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/service"
)

const maxTopK = 50

type AssistantService interface {
	Ask(ctx context.Context, input service.AskInput) (*service.AskResult, error)
}

type ChunkCounter interface {
	Count(ctx context.Context) (int, error)
}

type AskHandler struct {
	svc        AssistantService
	counter    ChunkCounter
	products   []string
	collection string
}

func NewAskHandler(svc AssistantService, counter ChunkCounter, products []string, collection string) *AskHandler {
	return &AskHandler{svc: svc, counter: counter, products: products, collection: collection}
}

type AskRequest struct {
	Question string `json:"question"`
	Product  string `json:"product,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

type SourceResponse struct {
	ChunkID     string  `json:"chunk_id"`
	Product     string  `json:"product"`
	ComplaintID string  `json:"complaint_id"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

type AskResponse struct {
	Answer    string            `json:"answer"`
	Source    string            `json:"source"`
	Sources   []string          `json:"sources"`
	Documents []*SourceResponse `json:"documents"`
}

type StatsResponse struct {
	Collection string `json:"collection"`
	Chunks     int    `json:"chunks"`
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		api.HandleError(w, domain.ErrEmptyQuestion)
		return
	}
	if req.TopK < 0 {
		api.HandleError(w, domain.ErrInvalidTopK)
		return
	}
	if req.TopK > maxTopK {
		api.Error(w, http.StatusBadRequest, "top_k must be at most 50")
		return
	}
	if !h.knownProduct(req.Product) {
		api.Error(w, http.StatusBadRequest, "unknown product: "+req.Product)
		return
	}

	product := service.NormalizeProduct(req.Product)
	if product == "" {
		product = domain.AllProducts
	}
	middleware.SetTransactionTag(r.Context(), "product", product)

	result, err := h.svc.Ask(r.Context(), service.AskInput{
		Question: req.Question,
		Product:  req.Product,
		TopK:     req.TopK,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	docs := make([]*SourceResponse, 0, len(result.Documents))
	for _, d := range result.Documents {
		docs = append(docs, &SourceResponse{
			ChunkID:     d.ChunkID,
			Product:     d.Product,
			ComplaintID: d.ComplaintID,
			Text:        d.Text,
			Score:       d.Score,
		})
	}
	sources := result.Sources
	if sources == nil {
		sources = []string{}
	}

	api.Success(w, http.StatusOK, &AskResponse{
		Answer:    result.Answer,
		Source:    result.Source,
		Sources:   sources,
		Documents: docs,
	})
}

func (h *AskHandler) Products(w http.ResponseWriter, r *http.Request) {
	api.Success(w, http.StatusOK, h.products)
}

func (h *AskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.counter.Count(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, &StatsResponse{Collection: h.collection, Chunks: count})
}

// knownProduct accepts blanks and any configured choice. An empty choice
// list accepts everything.
func (h *AskHandler) knownProduct(product string) bool {
	product = strings.TrimSpace(product)
	if product == "" || len(h.products) == 0 {
		return true
	}
	for _, p := range h.products {
		if p == product {
			return true
		}
	}
	return false
}
