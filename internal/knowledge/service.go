// Package knowledge is the facade over ingestion, retrieval and layer
// access: resources come in, layered records go into tenant collections,
// searches come back fused and scoped.
package knowledge

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/events"
	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/gateway"
	"github.com/fyrsmithlabs/strata/internal/layer"
	"github.com/fyrsmithlabs/strata/internal/retrieval"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/fyrsmithlabs/strata/internal/vectorstore"
)

// Record kinds.
const (
	KindResource = "resource"
	KindMemory   = "memory"
	KindSkill    = "skill"
)

// Kinds lists every valid record kind.
func Kinds() []string { return []string{KindResource, KindMemory, KindSkill} }

// Layers.
const (
	LayerAbstract = "l0"
	LayerOverview = "l1"
	LayerContent  = "l2"
)

// Payload field names shared by ingestion and filtering.
const (
	FieldURI         = "uri"
	FieldKind        = "kind"
	FieldLayer       = "layer"
	FieldContentType = "content_type"
)

var (
	// ErrInvalidKind indicates a record kind outside {resource, memory, skill}.
	ErrInvalidKind = errors.New("invalid record kind")

	// ErrUnknownLayer indicates a layer outside {l0, l1, l2}.
	ErrUnknownLayer = errors.New("unknown layer")

	// ErrNoContent indicates a resource carrying neither data nor a fetch
	// reference.
	ErrNoContent = errors.New("resource has no content")

	// ErrNotFound indicates no stored layers for the uri.
	ErrNotFound = errors.New("resource not found")

	// ErrNoFetcher indicates an L2 request with no content fetcher wired.
	ErrNoFetcher = errors.New("no content fetcher configured")
)

// Resource is one unit of content to ingest.
type Resource struct {
	URI         string
	Kind        string
	ContentType string

	// Data is inline content. When empty, FetchRef (or URI) is resolved
	// through the ContentFetcher.
	Data     []byte
	FetchRef string
}

// Layer is one materialized layer of a resource.
type Layer struct {
	URI         string
	Layer       string
	Content     string
	ContentType string
}

// ContentFetcher resolves a uri to canonical bytes. Byte storage lives
// outside the index; L2 always streams through this port.
type ContentFetcher interface {
	FetchBytes(ctx context.Context, uri string) ([]byte, error)
}

// ResourceID derives the stable id for a resource within one tenant scope.
// The agent is part of the identity: two agents ingesting the same uri in
// the same workspace own separate resources.
func ResourceID(scope tenant.Scope, uri string) string {
	return scopedID(scope, uri)
}

// RecordID derives the stable id for one layer record. The same scope, uri
// and layer always map to the same id, so re-ingestion updates in place
// without ever touching another agent's records.
func RecordID(scope tenant.Scope, uri, layerName string) string {
	return scopedID(scope, uri+"#"+layerName)
}

func scopedID(scope tenant.Scope, key string) string {
	sum := md5.Sum([]byte(scope.Workspace + ":" + scope.Agent + ":" + key))
	return hex.EncodeToString(sum[:])
}

// Config holds service settings.
type Config struct {
	// EnableSparse attaches BM25 term vectors to layer records.
	EnableSparse bool
}

// Deps are the collaborators a service needs. Fetcher and Events may be nil.
type Deps struct {
	Builder     *layer.Builder
	Gateway     *gateway.Gateway
	Registry    *tenant.Registry
	Coordinator *retrieval.Coordinator
	Sparse      *gateway.BM25Encoder
	Fetcher     ContentFetcher
	Events      *events.Publisher
	Logger      *zap.Logger
}

// Service implements the public knowledge operations.
type Service struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewService wires the facade.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Builder == nil || deps.Gateway == nil || deps.Registry == nil || deps.Coordinator == nil {
		return nil, fmt.Errorf("builder, gateway, registry and coordinator are required")
	}
	if cfg.EnableSparse && deps.Sparse == nil {
		return nil, fmt.Errorf("sparse encoding enabled but no encoder provided")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, deps: deps, logger: logger.Named("knowledge")}, nil
}

// Ingest derives and stores the layers of a resource. Re-ingesting the same
// uri overwrites the previous layer records.
func (s *Service) Ingest(ctx context.Context, res Resource) (string, error) {
	start := time.Now()

	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	if err := validateKind(res.Kind); err != nil {
		return "", err
	}
	if res.URI == "" {
		return "", fmt.Errorf("%w: uri required", ErrNoContent)
	}

	data, err := s.resolveContent(ctx, res)
	if err != nil {
		return "", err
	}

	src := layer.Source{URI: res.URI, ContentType: res.ContentType}
	if isImage(res.ContentType) {
		src.ImageData = data
	} else {
		src.Content = string(data)
	}

	derivation, err := s.deps.Builder.Derive(ctx, src)
	if err != nil {
		return "", err
	}

	records, err := s.layerRecords(ctx, scope, res, derivation)
	if err != nil {
		return "", err
	}

	handle, err := s.deps.Registry.Collection(ctx, scope, res.Kind)
	if err != nil {
		return "", err
	}
	result, err := handle.Upsert(ctx, records)
	if err != nil {
		return "", fmt.Errorf("upserting layers for %s: %w", res.URI, err)
	}
	if err := result.Err("upsert"); err != nil {
		return "", err
	}

	s.deps.Events.Publish(events.KindIngested, events.Event{
		URI:       res.URI,
		Workspace: scope.Workspace,
		Agent:     scope.Agent,
		Layers:    len(records),
		Elapsed:   time.Since(start).Milliseconds(),
	})
	s.logger.Info("ingested resource",
		zap.String("uri", res.URI),
		zap.String("kind", res.Kind),
		zap.Bool("chunked", derivation.Chunked),
		zap.Duration("elapsed", time.Since(start)))

	return ResourceID(scope, res.URI), nil
}

// layerRecords embeds the derived layers and shapes them into records.
func (s *Service) layerRecords(ctx context.Context, scope tenant.Scope, res Resource, d layer.Derivation) ([]vectorstore.Record, error) {
	layers := []struct {
		name    string
		content string
	}{
		{LayerAbstract, d.Abstract},
		{LayerOverview, d.Overview},
	}

	texts := make([]string, len(layers))
	for i, l := range layers {
		texts[i] = l.content
	}
	vectors, err := s.deps.Gateway.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding layers for %s: %w", res.URI, err)
	}

	if s.cfg.EnableSparse {
		s.deps.Sparse.Fit(texts)
	}

	now := time.Now().UTC()
	records := make([]vectorstore.Record, len(layers))
	for i, l := range layers {
		fields := scope.Fields()
		fields[FieldURI] = res.URI
		fields[FieldKind] = res.Kind
		fields[FieldLayer] = l.name
		if res.ContentType != "" {
			fields[FieldContentType] = res.ContentType
		}

		rec := vectorstore.Record{
			ID:        RecordID(scope, res.URI, l.name),
			Content:   l.content,
			Dense:     vectors[i],
			Fields:    fields,
			CreatedAt: now,
		}
		if s.cfg.EnableSparse {
			rec.Sparse = vectorstore.SparseVector(s.deps.Sparse.EncodeDocument(l.content))
		}
		records[i] = rec
	}
	return records, nil
}

// Search runs a scoped hybrid search across every record kind.
func (s *Service) Search(ctx context.Context, query string, f filter.Expr, topK int) ([]retrieval.Result, error) {
	return s.deps.Coordinator.Search(ctx, query, retrieval.Options{
		Kinds:  Kinds(),
		Filter: f,
		TopK:   topK,
	})
}

// GetLayer returns one layer of a resource. L0 and L1 come from stored
// records; L2 streams canonical bytes through the content fetcher.
func (s *Service) GetLayer(ctx context.Context, uri, layerName string) (Layer, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return Layer{}, err
	}

	switch layerName {
	case LayerAbstract, LayerOverview:
		// Own records first, then the shared agent's, mirroring search
		// visibility.
		ids := []string{RecordID(scope, uri, layerName)}
		if scope.Agent != tenant.SharedAgent {
			shared := tenant.Scope{Workspace: scope.Workspace, Agent: tenant.SharedAgent}
			ids = append(ids, RecordID(shared, uri, layerName))
		}
		for _, kind := range Kinds() {
			handle, err := s.deps.Registry.Collection(ctx, scope, kind)
			if err != nil {
				return Layer{}, err
			}
			for _, id := range ids {
				rec, err := handle.Get(ctx, id)
				if errors.Is(err, vectorstore.ErrNotFound) {
					continue
				}
				if err != nil {
					return Layer{}, err
				}
				return recordLayer(uri, layerName, rec), nil
			}
		}
		return Layer{}, fmt.Errorf("%w: %s", ErrNotFound, uri)

	case LayerContent:
		if s.deps.Fetcher == nil {
			return Layer{}, ErrNoFetcher
		}
		data, err := s.deps.Fetcher.FetchBytes(ctx, uri)
		if err != nil {
			return Layer{}, fmt.Errorf("fetching %s: %w", uri, err)
		}
		return Layer{URI: uri, Layer: LayerContent, Content: string(data)}, nil

	default:
		return Layer{}, fmt.Errorf("%w: %q", ErrUnknownLayer, layerName)
	}
}

// Remove deletes the calling agent's layer records of a resource across
// all kinds.
func (s *Service) Remove(ctx context.Context, uri string) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}

	removed := false
	for _, kind := range Kinds() {
		handle, err := s.deps.Registry.Collection(ctx, scope, kind)
		if err != nil {
			return err
		}
		// Scoped to the calling agent: removing a uri never reaches
		// across to another agent's records, and shared records are
		// removed only from the shared scope.
		result, err := handle.Delete(ctx, vectorstore.DeleteSpec{
			Filter: filter.And(
				filter.Eq(tenant.FieldWorkspace, scope.Workspace),
				filter.Eq(tenant.FieldAgent, scope.Agent),
				filter.Eq(FieldURI, uri),
			),
		})
		if err != nil {
			return fmt.Errorf("removing %s from %s: %w", uri, handle.Name(), err)
		}
		if err := result.Err("delete"); err != nil {
			return err
		}
		if len(result.Succeeded) > 0 {
			removed = true
		}
	}

	if removed {
		s.deps.Events.Publish(events.KindRemoved, events.Event{
			URI:       uri,
			Workspace: scope.Workspace,
			Agent:     scope.Agent,
		})
	}
	return nil
}

func (s *Service) resolveContent(ctx context.Context, res Resource) ([]byte, error) {
	if len(res.Data) > 0 {
		return res.Data, nil
	}
	ref := res.FetchRef
	if ref == "" {
		ref = res.URI
	}
	if s.deps.Fetcher == nil {
		return nil, fmt.Errorf("%w: %s has no inline data and no fetcher is configured", ErrNoContent, res.URI)
	}
	data, err := s.deps.Fetcher.FetchBytes(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, res.URI)
	}
	return data, nil
}

func recordLayer(uri, layerName string, rec *vectorstore.Record) Layer {
	l := Layer{URI: uri, Layer: layerName, Content: rec.Content}
	if ct, ok := rec.Fields[FieldContentType].(string); ok {
		l.ContentType = ct
	}
	return l
}

func validateKind(kind string) error {
	switch kind {
	case KindResource, KindMemory, KindSkill:
		return nil
	default:
		return fmt.Errorf("%w: %q (valid: %s)", ErrInvalidKind, kind, strings.Join(Kinds(), ", "))
	}
}

func isImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
