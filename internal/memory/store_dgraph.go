package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/quantumflow/scribe/internal/models"
)

// DgraphEssenceStore keeps essence entries in Dgraph as Essence nodes with
// their core patterns as child Pattern nodes
type DgraphEssenceStore struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewDgraphEssenceStore connects to a Dgraph alpha and installs the schema
func NewDgraphEssenceStore(ctx context.Context, alphaAddr string) (*DgraphEssenceStore, error) {
	conn, err := grpc.Dial(alphaAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	store := &DgraphEssenceStore{
		client: dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		conn:   conn,
	}

	if err := store.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *DgraphEssenceStore) initSchema(ctx context.Context) error {
	schema := `
		type Essence {
			essence.id
			essence.user
			essence.agent_type
			essence.content
			essence.confidence
			essence.original_count
			essence.created
			essence.patterns
		}

		type Pattern {
			pattern.text
		}

		essence.id: string @index(exact) @upsert .
		essence.user: string @index(exact) .
		essence.agent_type: string @index(exact) .
		essence.content: string .
		essence.confidence: float .
		essence.original_count: int .
		essence.created: datetime .
		essence.patterns: [uid] @reverse .

		pattern.text: string @index(exact) @upsert .
	`
	return s.client.Alter(ctx, &api.Operation{Schema: schema})
}

type dgraphPattern struct {
	UID   string   `json:"uid,omitempty"`
	Text  string   `json:"pattern.text"`
	DType []string `json:"dgraph.type,omitempty"`
}

type dgraphEssence struct {
	UID           string          `json:"uid,omitempty"`
	ID            string          `json:"essence.id"`
	User          string          `json:"essence.user"`
	AgentType     string          `json:"essence.agent_type"`
	Content       string          `json:"essence.content"`
	Confidence    float64         `json:"essence.confidence"`
	OriginalCount int             `json:"essence.original_count"`
	Created       time.Time       `json:"essence.created"`
	Patterns      []dgraphPattern `json:"essence.patterns,omitempty"`
	DType         []string        `json:"dgraph.type,omitempty"`
}

// SaveEssences implements EssenceStore
func (s *DgraphEssenceStore) SaveEssences(ctx context.Context, essences []models.CompressedMemory) error {
	if len(essences) == 0 {
		return nil
	}

	nodes := make([]dgraphEssence, 0, len(essences))
	for i, m := range essences {
		node := dgraphEssence{
			UID:           fmt.Sprintf("_:e%d", i),
			ID:            m.ID,
			User:          m.UserID,
			AgentType:     string(m.AgentType),
			Content:       m.Content,
			Confidence:    m.Confidence,
			OriginalCount: m.OriginalCount,
			Created:       m.CreatedAt,
			DType:         []string{"Essence"},
		}
		for j, p := range m.Patterns {
			node.Patterns = append(node.Patterns, dgraphPattern{
				UID:   fmt.Sprintf("_:e%dp%d", i, j),
				Text:  p,
				DType: []string{"Pattern"},
			})
		}
		nodes = append(nodes, node)
	}

	data, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal essences: %w", err)
	}

	txn := s.client.NewTxn()
	defer txn.Discard(ctx)

	if _, err := txn.Mutate(ctx, &api.Mutation{CommitNow: true, SetJson: data}); err != nil {
		return fmt.Errorf("failed to store essences: %w", err)
	}
	return nil
}

// QueryEssences implements EssenceStore; an empty agentType returns all
func (s *DgraphEssenceStore) QueryEssences(ctx context.Context, agentType models.AgentType) ([]models.CompressedMemory, error) {
	q := `query essences($type: string) {
		essences(func: type(Essence)) @filter(eq(essence.agent_type, $type)) {
			essence.id
			essence.user
			essence.agent_type
			essence.content
			essence.confidence
			essence.original_count
			essence.created
			essence.patterns { pattern.text }
		}
	}`
	vars := map[string]string{"$type": string(agentType)}
	if agentType == "" {
		q = `{
		essences(func: type(Essence)) {
			essence.id
			essence.user
			essence.agent_type
			essence.content
			essence.confidence
			essence.original_count
			essence.created
			essence.patterns { pattern.text }
		}
	}`
		vars = nil
	}

	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, vars)
	if err != nil {
		return nil, fmt.Errorf("essence query failed: %w", err)
	}

	var result struct {
		Essences []dgraphEssence `json:"essences"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := make([]models.CompressedMemory, len(result.Essences))
	for i, e := range result.Essences {
		patterns := make([]string, len(e.Patterns))
		for j, p := range e.Patterns {
			patterns[j] = p.Text
		}
		out[i] = models.CompressedMemory{
			ID:             e.ID,
			UserID:         e.User,
			AgentType:      models.AgentType(e.AgentType),
			Level:          models.LevelEssence,
			OriginalCount:  e.OriginalCount,
			Content:        e.Content,
			Patterns:       patterns,
			Confidence:     e.Confidence,
			CreatedAt:      e.Created,
			LastCompressed: e.Created,
		}
	}
	return out, nil
}

// Close closes the Dgraph connection
func (s *DgraphEssenceStore) Close() error {
	return s.conn.Close()
}
