package ats

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"interviewly/internal/config"
	"interviewly/internal/database"
	"interviewly/internal/llm"
)

// Matcher scores how well a resume fits a job, 0 to 100. ok is false when no
// score could be computed and the caller should fall back.
type Matcher interface {
	FitScore(ctx context.Context, job *database.Job, resumeText string) (score float64, ok bool)
}

// QdrantMatcher 用 Gemini 向量 + Qdrant 余弦相似度给简历打分。
// 职位描述以职位 ID 为点 ID 写入集合，简历向量只用于查询，不落库。
type QdrantMatcher struct {
	client     *qdrant.Client
	llm        *llm.Service
	collection string
	logger     *slog.Logger

	mu    sync.Mutex
	ready bool
}

// NewQdrantMatcher returns nil when Qdrant is not configured or the LLM
// service has no embedder.
func NewQdrantMatcher(cfg config.QdrantConfig, llmService *llm.Service, logger *slog.Logger) (*QdrantMatcher, error) {
	if cfg.URL == "" || llmService == nil || !llmService.CanEmbed() {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   parsed.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: parsed.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "job_descriptions"
	}
	return &QdrantMatcher{client: client, llm: llmService, collection: collection, logger: logger}, nil
}

func (m *QdrantMatcher) Close() error { return m.client.Close() }

func (m *QdrantMatcher) ensureCollection(ctx context.Context, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}
	exists, err := m.client.CollectionExists(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection: %w", err)
	}
	if !exists {
		err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: m.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(size),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create qdrant collection: %w", err)
		}
	}
	m.ready = true
	return nil
}

// IndexJob upserts the job description vector.
func (m *QdrantMatcher) IndexJob(ctx context.Context, job *database.Job) error {
	vec, err := m.llm.Embed(ctx, JobDocument(job))
	if err != nil {
		return err
	}
	if err := m.ensureCollection(ctx, len(vec)); err != nil {
		return err
	}
	_, err = m.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: m.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(uint64(job.ID)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]any{
				"job_key": strconv.FormatUint(uint64(job.ID), 10),
				"title":   job.Title,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert job vector: %w", err)
	}
	return nil
}

// FitScore implements Matcher.
func (m *QdrantMatcher) FitScore(ctx context.Context, job *database.Job, resumeText string) (float64, bool) {
	log := m.logger.With(slog.Uint64("job_id", uint64(job.ID)))
	if strings.TrimSpace(resumeText) == "" {
		return 0, false
	}
	// 每次投递都刷新一次职位向量，职位描述可能已被修改。
	if err := m.IndexJob(ctx, job); err != nil {
		log.Warn("index job for fit score failed", slog.Any("error", err))
		return 0, false
	}
	vec, err := m.llm.Embed(ctx, resumeText)
	if err != nil {
		log.Warn("embed resume failed", slog.Any("error", err))
		return 0, false
	}
	points, err := m.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: m.collection,
		Query:          qdrant.NewQuery(vec...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("job_key", strconv.FormatUint(uint64(job.ID), 10)),
			},
		},
		Limit: qdrant.PtrOf(uint64(1)),
	})
	if err != nil {
		log.Warn("qdrant query failed", slog.Any("error", err))
		return 0, false
	}
	if len(points) == 0 {
		return 0, false
	}
	return SimilarityToScore(points[0].Score), true
}

// SimilarityToScore maps a cosine similarity in [-1, 1] to [0, 100], two decimals.
func SimilarityToScore(sim float32) float64 {
	v := (float64(sim) + 1) / 2 * 100
	v = max(0, min(100, v))
	return float64(int(v*100+0.5)) / 100
}

// JobDocument is the text embedded for a job.
func JobDocument(job *database.Job) string {
	var b strings.Builder
	b.WriteString(job.Title)
	b.WriteString("\n\n")
	b.WriteString(job.Description)
	if job.RequirementsRaw != "" {
		b.WriteString("\n\nRequirements:\n")
		b.WriteString(job.RequirementsRaw)
	}
	if len(job.Skills) > 0 {
		names := make([]string, len(job.Skills))
		for i, sk := range job.Skills {
			names[i] = sk.Name
		}
		b.WriteString("\n\nSkills: ")
		b.WriteString(strings.Join(names, ", "))
	}
	return b.String()
}

// MatchSkills splits the job's skills into those mentioned in the resume and the rest.
func MatchSkills(skills []database.JobSkill, resumeText string) (matched, missing []string) {
	text := strings.ToLower(resumeText)
	for _, sk := range skills {
		if text != "" && strings.Contains(text, strings.ToLower(sk.Name)) {
			matched = append(matched, sk.Name)
		} else {
			missing = append(missing, sk.Name)
		}
	}
	return matched, missing
}
