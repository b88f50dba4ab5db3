package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/document-rag/internal/vectorstore"
)

const (
	payloadText    = "text"
	payloadChunkID = "chunk_id"
	scrollPage     = 256
)

var errNotFound = errors.New("qdrant: not found")

// Storage is a REST client to Qdrant implementing vectorstore.Backend.
// Chunk ids are mapped to deterministic UUID point ids; the original id is
// kept in the payload.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.Mutex
	dimension int
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	// Dimension is the vector size. Zero means it is taken from the first upsert.
	Dimension int
	Timeout   time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID maps a chunk id to the UUID used as the Qdrant point id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *Storage) CreateCollection(ctx context.Context) error {
	s.mu.Lock()
	dim := s.dimension
	s.mu.Unlock()
	if dim == 0 {
		// created lazily once the vector size is known
		return nil
	}
	return s.ensureCollection(ctx, dim)
}

func (s *Storage) ensureCollection(ctx context.Context, dim int) error {
	err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	s.mu.Lock()
	s.dimension = dim
	s.mu.Unlock()
	return nil
}

func (s *Storage) DropCollection(ctx context.Context) error {
	err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil)
	if errors.Is(err, errNotFound) {
		return vectorstore.ErrCollectionNotFound
	}
	if err != nil {
		return err
	}
	return s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil)
}

func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(records[0].Embedding)); err != nil {
		return err
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadText] = r.Text
		payload[payloadChunkID] = r.ID
		points[i] = map[string]any{
			"id":      PointID(r.ID),
			"vector":  r.Embedding,
			"payload": payload,
		}
	}
	return s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", map[string]any{"points": points}, nil)
}

type point struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (s *Storage) Get(ctx context.Context, filter vectorstore.Filter) ([]vectorstore.Record, error) {
	var out []vectorstore.Record
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPage,
			"with_payload": true,
			"with_vector":  false,
		}
		if f := toFilter(filter); f != nil {
			req["filter"] = f
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []point `json:"points"`
				NextPageOffset any     `json:"next_page_offset"`
			} `json:"result"`
		}
		err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/scroll", req, &resp)
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			out = append(out, fromPayload(p.Payload))
		}
		if resp.Result.NextPageOffset == nil {
			return out, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (s *Storage) Query(ctx context.Context, vector []float32, filter vectorstore.Filter, k int) ([]vectorstore.Match, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if f := toFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []point `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	matches := make([]vectorstore.Match, 0, len(resp.Result))
	for _, p := range resp.Result {
		matches = append(matches, vectorstore.Match{Record: fromPayload(p.Payload), Score: p.Score})
	}
	return matches, nil
}

func (s *Storage) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/delete?wait=true", map[string]any{"points": points}, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

func (s *Storage) DeleteWhere(ctx context.Context, filter vectorstore.Filter) error {
	if len(filter) == 0 {
		return errors.New("qdrant: refusing to delete without a filter")
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/delete?wait=true", map[string]any{"filter": toFilter(filter)}, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

// Flush is a no-op: every write is sent with wait=true.
func (s *Storage) Flush(ctx context.Context) error { return nil }

func (s *Storage) Persisted(ctx context.Context) bool {
	return s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil) == nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func toFilter(filter vectorstore.Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

func fromPayload(payload map[string]any) vectorstore.Record {
	r := vectorstore.Record{Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		str, ok := v.(string)
		if !ok {
			str = fmt.Sprint(v)
		}
		switch k {
		case payloadText:
			r.Text = str
		case payloadChunkID:
			r.ID = str
		default:
			r.Metadata[k] = str
		}
	}
	return r
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

var _ vectorstore.Backend = (*Storage)(nil)
