package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/internal/ctxkeys"
	llmctx "github.com/BaSui01/ragcore/llm/context"
	"github.com/BaSui01/ragcore/llm/embedding"
	"github.com/BaSui01/ragcore/llm/generation"
	"github.com/BaSui01/ragcore/types"
)

const (
	tracerName = "ragcore/rag"

	// ingestWriteBatch 单次写入存储的块数；批次之间检查取消
	ingestWriteBatch = 64
	// cleanupTimeout 取消后清理已写入块的超时
	cleanupTimeout = 10 * time.Second
	// fallbackPassages 抽取式回答引用的块数上限
	fallbackPassages = 3
	// fallbackPassageRunes 抽取式回答中每块的最大字符数
	fallbackPassageRunes = 300

	noAnswerText = "No relevant information was found in the knowledge base."
)

// MetricsRecorder 编排器指标（由 internal/metrics.Collector 实现）
type MetricsRecorder interface {
	RecordIngest(stored, failed int, duration time.Duration)
	RecordQuery(strategy, state string, duration time.Duration)
	RecordGeneration(provider, model, status string, duration time.Duration)
}

// ====== 请求与结果 ======

// ChunkError 单个块的入库失败
type ChunkError struct {
	ChunkID string          `json:"chunk_id"`
	Index   int             `json:"index"`
	Code    types.ErrorCode `json:"code,omitempty"`
	Message string          `json:"message"`
}

// IngestReport 入库报告
type IngestReport struct {
	DocumentID   string       `json:"document_id"`
	ChunksTotal  int          `json:"chunks_total"`
	ChunksStored int          `json:"chunks_stored"`
	Errors       []ChunkError `json:"errors,omitempty"`
	// Degraded 至少一个块使用了哈希降级向量
	Degraded bool          `json:"degraded"`
	Duration time.Duration `json:"duration"`
}

// QueryRequest 查询请求，零值字段使用配置默认值
type QueryRequest struct {
	Query     string            `json:"query"`
	SessionID string            `json:"session_id,omitempty"`
	Strategy  RetrievalStrategy `json:"strategy,omitempty"`
	TopK      int               `json:"top_k,omitempty"`
	Filter    Metadata          `json:"filter,omitempty"`
}

// Citation 回答实际使用的来源
type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
}

// QueryResult 查询结果
type QueryResult struct {
	Query     string     `json:"query"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	// Candidates 重排序后的候选（含未进入 prompt 的）
	Candidates []RetrievedCandidate `json:"candidates"`
	State      QueryState           `json:"state"`
	Trace      []Transition         `json:"trace"`
	Fallback   bool                 `json:"fallback"`
	// FallbackReason 进入回退分支的原因
	FallbackReason string `json:"fallback_reason,omitempty"`
	// Degraded 检索使用了降级向量或退化为仅关键词
	Degraded   bool          `json:"degraded"`
	CacheHit   bool          `json:"cache_hit"`
	Compressed bool          `json:"compressed"`
	Duration   time.Duration `json:"duration"`
}

// ====== Orchestrator ======

// Components 编排器依赖。Reranker、Generator、Sessions、Metrics 可为空。
type Components struct {
	Chunker   *DocumentChunker
	Embedder  embedding.Provider
	Store     VectorStore
	Retriever *Retriever
	Reranker  Reranker
	// RerankTopN 启用重排序时检索的候选数
	RerankTopN int
	Prompt     *PromptBuilder
	Generator  generation.Generator
	Sessions   *llmctx.Manager
	Metrics    MetricsRecorder
}

// Orchestrator RAG 编排器：入库与问答两条流程
type Orchestrator struct {
	c      Components
	tracer trace.Tracer
	now    func() time.Time
	logger *zap.Logger
}

// NewOrchestrator 创建编排器
func NewOrchestrator(c Components, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case c.Chunker == nil:
		return nil, types.NewConfigurationError("orchestrator requires a chunker")
	case c.Embedder == nil:
		return nil, types.NewConfigurationError("orchestrator requires an embedding provider")
	case c.Store == nil:
		return nil, types.NewConfigurationError("orchestrator requires a vector store")
	case c.Retriever == nil:
		return nil, types.NewConfigurationError("orchestrator requires a retriever")
	case c.Prompt == nil:
		return nil, types.NewConfigurationError("orchestrator requires a prompt builder")
	}
	if c.Embedder.Dimensions() != c.Store.Dimension() {
		return nil, types.NewConfigurationError("embedding dimension %d does not match store dimension %d",
			c.Embedder.Dimensions(), c.Store.Dimension())
	}
	if c.RerankTopN <= 0 {
		c.RerankTopN = defaultRerankTopN
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		c:      c,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		logger: logger.With(zap.String("component", "orchestrator")),
	}, nil
}

// Store 返回底层向量存储
func (o *Orchestrator) Store() VectorStore { return o.c.Store }

// Sessions 返回会话管理器（可能为 nil）
func (o *Orchestrator) Sessions() *llmctx.Manager { return o.c.Sessions }

// ====== 入库 ======

// AddKnowledge 分块 → 批量嵌入 → 写入存储。
// 批量嵌入失败时逐块重试并收集单块错误；部分成功时返回报告且 error 为 nil。
// 若在写入任意块后 ctx 被取消，会删除该文档的全部块并返回取消错误。
func (o *Orchestrator) AddKnowledge(ctx context.Context, doc Document) (*IngestReport, error) {
	start := o.now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	ctx, span := o.tracer.Start(ctx, "rag.add_knowledge",
		trace.WithAttributes(
			attribute.String("rag.document_id", doc.ID),
			attribute.String("rag.document_kind", string(doc.Kind)),
		))
	defer span.End()

	report, err := o.ingest(ctx, doc)
	if report != nil {
		report.Duration = o.now().Sub(start)
		if o.c.Metrics != nil {
			o.c.Metrics.RecordIngest(report.ChunksStored, len(report.Errors), report.Duration)
		}
		span.SetAttributes(
			attribute.Int("rag.chunks_total", report.ChunksTotal),
			attribute.Int("rag.chunks_stored", report.ChunksStored),
			attribute.Bool("rag.degraded", report.Degraded),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) ingest(ctx context.Context, doc Document) (*IngestReport, error) {
	chunks, err := o.c.Chunker.ChunkDocument(doc)
	if err != nil {
		return nil, err
	}
	report := &IngestReport{DocumentID: doc.ID, ChunksTotal: len(chunks)}
	if len(chunks) == 0 {
		return report, nil
	}

	ready, err := o.embedChunks(ctx, chunks, report)
	if err != nil {
		return report, err
	}

	written := false
	for i := 0; i < len(ready); i += ingestWriteBatch {
		if err := ctx.Err(); err != nil {
			return report, o.abortIngest(ctx, doc.ID, written, err)
		}
		batch := ready[i:min(i+ingestWriteBatch, len(ready))]
		if err := o.c.Store.Add(ctx, batch); err != nil {
			if ctx.Err() != nil {
				return report, o.abortIngest(ctx, doc.ID, true, ctx.Err())
			}
			o.logger.Error("store write failed",
				zap.String("document_id", doc.ID),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			for _, c := range batch {
				report.Errors = append(report.Errors, chunkError(c, err))
			}
			continue
		}
		written = true
		report.ChunksStored += len(batch)
	}
	if written {
		o.c.Retriever.InvalidateCache()
	}
	if err := ctx.Err(); err != nil && written {
		return report, o.abortIngest(ctx, doc.ID, true, err)
	}

	if report.ChunksStored == report.ChunksTotal {
		o.pruneStaleChunks(ctx, doc.ID, chunks)
	}

	o.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("chunks_total", report.ChunksTotal),
		zap.Int("chunks_stored", report.ChunksStored),
		zap.Int("chunk_errors", len(report.Errors)),
		zap.Bool("degraded", report.Degraded))

	if report.ChunksStored == 0 {
		return report, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("no chunks of document %s could be stored", doc.ID)).WithRetryable(true)
	}
	return report, nil
}

// embedChunks 批量嵌入；失败时逐块重试。返回成功嵌入的块。
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []Chunk, report *IngestReport) ([]Chunk, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	res, err := embedding.EmbedBatchWithStatus(ctx, o.c.Embedder, texts)
	if err == nil {
		for i := range chunks {
			chunks[i].Embedding = res.Vectors[i]
		}
		report.Degraded = res.Degraded
		return chunks, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	o.logger.Warn("batch embedding failed, retrying chunk by chunk",
		zap.Int("chunks", len(chunks)), zap.Error(err))
	ready := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vec, degraded, err := embedding.EmbedWithStatus(ctx, o.c.Embedder, c.Text)
		if err != nil {
			report.Errors = append(report.Errors, chunkError(c, err))
			continue
		}
		c.Embedding = vec
		report.Degraded = report.Degraded || degraded
		ready = append(ready, c)
	}
	return ready, nil
}

// abortIngest 取消时清理已写入的块；清理使用脱离取消的 ctx
func (o *Orchestrator) abortIngest(ctx context.Context, documentID string, written bool, cause error) error {
	if !written {
		return cause
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := o.c.Store.DeleteDocument(cctx, documentID); err != nil {
		o.logger.Error("cleanup after cancelled ingest failed",
			zap.String("document_id", documentID), zap.Error(err))
		return errors.Join(cause, err)
	}
	o.c.Retriever.InvalidateCache()
	o.logger.Warn("ingest cancelled, partial document removed", zap.String("document_id", documentID))
	return cause
}

// pruneStaleChunks 重新入库的文档块数变少时，删除旧版本多出的块
func (o *Orchestrator) pruneStaleChunks(ctx context.Context, documentID string, current []Chunk) {
	lister, ok := o.c.Store.(ChunkLister)
	if !ok {
		return
	}
	existing, err := lister.ListChunks(ctx, Metadata{MetaDocumentID: documentID})
	if err != nil {
		o.logger.Warn("list chunks for pruning failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	keep := make(map[string]struct{}, len(current))
	for _, c := range current {
		keep[c.ID] = struct{}{}
	}
	var stale []string
	for _, c := range existing {
		if _, ok := keep[c.ID]; !ok {
			stale = append(stale, c.ID)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := o.c.Store.Delete(ctx, stale); err != nil {
		o.logger.Warn("prune stale chunks failed", zap.String("document_id", documentID), zap.Error(err))
		return
	}
	o.c.Retriever.InvalidateCache()
}

func chunkError(c Chunk, err error) ChunkError {
	idx, _ := c.Metadata[MetaChunkIndex].(int64)
	return ChunkError{ChunkID: c.ID, Index: int(idx), Code: types.GetErrorCode(err), Message: err.Error()}
}

// ====== 问答 ======

// pipeline 检索到上下文构建阶段的中间结果
type pipeline struct {
	machine    *queryMachine
	query      string
	strategy   RetrievalStrategy
	candidates []RetrievedCandidate
	prompt     *BuiltPrompt
	promptErr  error
	degraded   bool
	cacheHit   bool
	compressed bool
}

// prepare 执行 Idle → Retrieving → Reranking → ContextBuilding
func (o *Orchestrator) prepare(ctx context.Context, req QueryRequest) (*pipeline, error) {
	p := &pipeline{machine: newQueryMachine(o.now), query: strings.TrimSpace(req.Query)}
	p.strategy = req.Strategy
	if p.strategy == "" {
		p.strategy = o.c.Retriever.Config().Strategy
	}

	if p.query == "" {
		p.machine.mustTo(StateFailed, "empty query")
		return p, types.NewError(types.ErrInvalidRequest, "query must not be empty")
	}

	p.machine.mustTo(StateRetrieving, string(p.strategy))
	topK := req.TopK
	if topK <= 0 {
		topK = o.c.Retriever.Config().TopK
	}
	retrieveK := topK
	if o.c.Reranker != nil {
		retrieveK = max(topK, o.c.RerankTopN)
	}
	out, err := o.c.Retriever.RetrieveWithStatus(ctx, p.query, RetrieveOptions{
		Strategy: req.Strategy,
		TopK:     retrieveK,
		Filter:   req.Filter,
	})
	if err != nil {
		p.machine.mustTo(StateFailed, err.Error())
		return p, err
	}
	p.candidates, p.degraded, p.cacheHit = out.Candidates, out.Degraded, out.CacheHit

	p.machine.mustTo(StateReranking, "")
	if o.c.Reranker != nil {
		reranked, err := o.c.Reranker.Rerank(ctx, p.query, p.candidates, topK)
		if err != nil {
			if ctx.Err() != nil {
				return p, ctx.Err()
			}
			o.logger.Warn("rerank failed, keeping retrieval order", zap.Error(err))
		} else {
			p.candidates = reranked
		}
	}
	if len(p.candidates) > topK {
		p.candidates = p.candidates[:topK]
	}

	p.machine.mustTo(StateContextBuilding, "")
	var history []llmctx.Turn
	if req.SessionID != "" && o.c.Sessions != nil {
		turns, compressed, err := o.c.Sessions.GetContext(ctx, req.SessionID, 0)
		switch {
		case err == nil:
			history, p.compressed = turns, compressed
		case types.IsNotFound(err):
		default:
			o.logger.Warn("load conversation context failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}
	p.prompt, p.promptErr = o.c.Prompt.Build(p.query, p.candidates, history)
	return p, nil
}

// Query 执行问答流程。生成不可用或出错时进入 Fallback 返回抽取式回答；
// 空查询或检索彻底失败时状态为 Failed，此时同时返回结果（含 Trace）与错误。
func (o *Orchestrator) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	start := o.now()
	ctx = withRequestContext(ctx, req)
	ctx, span := o.tracer.Start(ctx, "rag.query",
		trace.WithAttributes(attribute.String("rag.session_id", req.SessionID)))
	defer span.End()

	p, err := o.prepare(ctx, req)
	if err != nil {
		res := o.failedResult(p, start)
		o.recordQuery(p, res, span)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	m := p.machine
	m.mustTo(StateGenerating, "")
	var answer, reason string
	used := p.candidates
	switch {
	case p.promptErr != nil:
		reason = p.promptErr.Error()
	case o.c.Generator == nil:
		reason = "generation disabled"
		used = p.prompt.Used
	default:
		used = p.prompt.Used
		answer, err = o.generate(ctx, p.prompt.Text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			reason = err.Error()
		} else if strings.TrimSpace(answer) == "" {
			reason = "empty generation"
		}
	}
	if reason != "" {
		m.mustTo(StateFallback, reason)
		answer, used = extractiveAnswer(passagesForFallback(used, p.candidates))
	}

	m.mustTo(StateAttributing, "")
	res := &QueryResult{
		Query:          p.query,
		Answer:         answer,
		Citations:      citations(used),
		Candidates:     p.candidates,
		Fallback:       reason != "",
		FallbackReason: reason,
		Degraded:       p.degraded,
		CacheHit:       p.cacheHit,
		Compressed:     p.compressed,
	}
	m.mustTo(StateDone, "")
	res.State, res.Trace = m.State(), m.Trace()
	res.Duration = o.now().Sub(start)

	o.remember(ctx, req.SessionID, p.query, answer)
	o.recordQuery(p, res, span)
	return res, nil
}

// withRequestContext 为下游生成请求附带请求 ID 与会话 ID
func withRequestContext(ctx context.Context, req QueryRequest) context.Context {
	if _, ok := ctxkeys.RequestID(ctx); !ok {
		ctx = ctxkeys.WithRequestID(ctx, uuid.NewString())
	}
	if req.SessionID != "" {
		ctx = ctxkeys.WithSessionID(ctx, req.SessionID)
	}
	return ctx
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, error) {
	start := o.now()
	answer, err := o.c.Generator.Generate(ctx, prompt)
	status := "ok"
	if err != nil {
		status = "error"
		o.logger.Warn("generation failed, using extractive fallback",
			zap.String("provider", o.c.Generator.Name()), zap.Error(err))
	}
	if o.c.Metrics != nil {
		o.c.Metrics.RecordGeneration(o.c.Generator.Name(), o.c.Generator.Model(), status, o.now().Sub(start))
	}
	return answer, err
}

func (o *Orchestrator) failedResult(p *pipeline, start time.Time) *QueryResult {
	return &QueryResult{
		Query:      p.query,
		Citations:  []Citation{},
		Candidates: []RetrievedCandidate{},
		State:      p.machine.State(),
		Trace:      p.machine.Trace(),
		Duration:   o.now().Sub(start),
	}
}

func (o *Orchestrator) recordQuery(p *pipeline, res *QueryResult, span trace.Span) {
	state := string(res.State)
	if res.Fallback {
		state = string(StateFallback)
	}
	span.SetAttributes(
		attribute.String("rag.strategy", string(p.strategy)),
		attribute.String("rag.state", state),
		attribute.Int("rag.citations", len(res.Citations)),
		attribute.Bool("rag.cache_hit", res.CacheHit),
	)
	if o.c.Metrics != nil {
		o.c.Metrics.RecordQuery(string(p.strategy), state, res.Duration)
	}
	o.logger.Debug("query completed",
		zap.String("state", state),
		zap.Int("citations", len(res.Citations)),
		zap.Duration("duration", res.Duration))
}

// remember 把本轮问答追加到会话；失败只记录日志
func (o *Orchestrator) remember(ctx context.Context, sessionID, query, answer string) {
	if sessionID == "" || o.c.Sessions == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, t := range []llmctx.Turn{
		{Role: llmctx.RoleUser, Content: query},
		{Role: llmctx.RoleAssistant, Content: answer},
	} {
		if err := o.c.Sessions.AppendTurn(ctx, sessionID, t); err != nil {
			o.logger.Warn("append conversation turn failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
	}
}

// ====== 流式问答 ======

// QueryStream 流式问答的结果句柄。Citations 在流开始前即已确定。
type QueryStream struct {
	Fragments <-chan generation.Fragment
	Citations []Citation
	Fallback  bool
	State     QueryState
	Trace     []Transition
}

// QueryStream 流式问答。生成器不支持流式或出错时，以抽取式回答作为单个片段返回。
func (o *Orchestrator) QueryStream(ctx context.Context, req QueryRequest) (*QueryStream, error) {
	ctx = withRequestContext(ctx, req)
	ctx, span := o.tracer.Start(ctx, "rag.query_stream",
		trace.WithAttributes(attribute.String("rag.session_id", req.SessionID)))
	// 流式生成时 span 由 relay 在流结束后关闭
	relaying := false
	defer func() {
		if !relaying {
			span.End()
		}
	}()

	p, err := o.prepare(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &QueryStream{State: p.machine.State(), Trace: p.machine.Trace()}, err
	}

	m := p.machine
	m.mustTo(StateGenerating, "")
	used := p.candidates
	var (
		frags  <-chan generation.Fragment
		reason string
	)
	sg, streaming := o.c.Generator.(generation.StreamGenerator)
	switch {
	case p.promptErr != nil:
		reason = p.promptErr.Error()
	case !streaming:
		reason = "streaming generation unavailable"
		used = p.prompt.Used
	default:
		used = p.prompt.Used
		frags, err = sg.GenerateStream(ctx, p.prompt.Text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			reason = err.Error()
		}
	}

	out := &QueryStream{}
	if reason != "" {
		m.mustTo(StateFallback, reason)
		var answer string
		answer, used = extractiveAnswer(passagesForFallback(used, p.candidates))
		ch := make(chan generation.Fragment, 1)
		ch <- generation.Fragment{Text: answer, Done: true}
		close(ch)
		out.Fragments = ch
		out.Fallback = true
		o.remember(ctx, req.SessionID, p.query, answer)
	} else {
		out.Fragments = o.relay(ctx, span, frags, req.SessionID, p.query)
		relaying = true
	}

	m.mustTo(StateAttributing, "")
	out.Citations = citations(used)
	m.mustTo(StateDone, "")
	out.State, out.Trace = m.State(), m.Trace()
	return out, nil
}

// relay 转发片段并在流结束后把完整回答写入会话
func (o *Orchestrator) relay(ctx context.Context, span trace.Span, in <-chan generation.Fragment, sessionID, query string) <-chan generation.Fragment {
	out := make(chan generation.Fragment)
	go func() {
		defer span.End()
		defer close(out)
		var sb strings.Builder
		failed := false
		for f := range in {
			sb.WriteString(f.Text)
			if f.Err != nil && !failed {
				failed = true
				span.RecordError(f.Err)
				span.SetStatus(codes.Error, f.Err.Error())
			}
			select {
			case out <- f:
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, ctx.Err().Error())
				// 排空上游，避免其 goroutine 阻塞
				for range in {
				}
				return
			}
		}
		if !failed {
			o.remember(ctx, sessionID, query, sb.String())
		}
	}()
	return out
}

// ====== 回退与溯源 ======

// passagesForFallback prompt 预算装不下任何块时，回退到检索排名靠前的候选
func passagesForFallback(used, candidates []RetrievedCandidate) []RetrievedCandidate {
	if len(used) == 0 {
		return candidates
	}
	return used
}

// extractiveAnswer 由排名最高的若干块直接拼出回答；返回实际引用的块
func extractiveAnswer(cands []RetrievedCandidate) (string, []RetrievedCandidate) {
	if len(cands) == 0 {
		return noAnswerText, []RetrievedCandidate{}
	}
	used := cands[:min(fallbackPassages, len(cands))]
	var sb strings.Builder
	sb.WriteString("Generation is unavailable. The most relevant passages are:\n")
	for i, c := range used {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, clipRunes(strings.TrimSpace(c.Chunk.Text), fallbackPassageRunes))
	}
	return sb.String(), used
}

func clipRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

func citations(used []RetrievedCandidate) []Citation {
	out := make([]Citation, len(used))
	for i, c := range used {
		out[i] = Citation{
			ChunkID:    c.Chunk.ID,
			DocumentID: c.Chunk.DocumentID,
			Score:      c.Score,
			Rank:       c.Rank,
			StartIndex: c.Chunk.StartIndex,
			EndIndex:   c.Chunk.EndIndex,
		}
	}
	return out
}

// ====== 存储直通 ======

// DeleteDocument 级联删除文档的所有块
func (o *Orchestrator) DeleteDocument(ctx context.Context, documentID string) error {
	if err := o.c.Store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	o.c.Retriever.InvalidateCache()
	return nil
}

// Clear 清空存储
func (o *Orchestrator) Clear(ctx context.Context) error {
	if err := o.c.Store.Clear(ctx); err != nil {
		return err
	}
	o.c.Retriever.InvalidateCache()
	return nil
}

// Count 返回存储中的块数
func (o *Orchestrator) Count(ctx context.Context) (int, error) { return o.c.Store.Count(ctx) }

// Close 关闭存储
func (o *Orchestrator) Close() error { return o.c.Store.Close() }
