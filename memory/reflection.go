package memory

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brooksjoey/MnemosyneOS/llm"
	"github.com/brooksjoey/MnemosyneOS/types"
)

// maxReflectionBlocks 单次反思最多写回的块数
const maxReflectionBlocks = 3

// defaultReflectionText 摘要输出无法解析时写回的兜底反思
const defaultReflectionText = "Reflection generated from analyzing recent memories. No specific patterns identified."

// TriggerReflection 触发命名空间的反思。
// started=true 表示本次调用启动了新反思（在独立 goroutine 上运行），
// started=false 表示已有反思在途，返回其快照；拒绝而非排队。
// 两者都是正常结果而非错误.
func (s *Service) TriggerReflection(ctx context.Context, namespace string) (*types.ReflectionRun, bool, error) {
	if s.closed.Load() {
		return nil, false, types.NewError(types.ErrServiceUnavailable, "memory service is closed").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	if err := types.ValidateNamespace(namespace); err != nil {
		return nil, false, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}

	s.reflMu.Lock()
	defer s.reflMu.Unlock()

	if cur, ok := s.running[namespace]; ok {
		if s.metrics != nil {
			s.metrics.RecordReflectionRun(namespace, "rejected", 0, 0)
		}
		snapshot := *cur
		return &snapshot, false, nil
	}

	run := &types.ReflectionRun{
		Namespace: namespace,
		Status:    types.ReflectionRunning,
		StartedAt: time.Now().UTC(),
	}
	s.running[namespace] = run

	s.wg.Add(1)
	go s.runReflection(namespace, run.StartedAt)

	snapshot := *run
	return &snapshot, true, nil
}

// LastReflection 返回命名空间最近一次反思的快照：在途的优先，
// 否则是最近完成的；从未反思过返回 (nil, false).
func (s *Service) LastReflection(namespace string) (*types.ReflectionRun, bool) {
	s.reflMu.Lock()
	defer s.reflMu.Unlock()

	if cur, ok := s.running[namespace]; ok {
		snapshot := *cur
		return &snapshot, true
	}
	if last, ok := s.lastRuns[namespace]; ok {
		snapshot := *last
		return &snapshot, true
	}
	return nil, false
}

// runReflection 执行一轮反思并维护状态机。
// 使用服务生命周期上下文，触发方的请求取消不影响在途反思.
func (s *Service) runReflection(namespace string, startedAt time.Time) {
	defer s.wg.Done()

	start := time.Now()
	ctx := s.baseCtx
	logger := s.logger.With(zap.String("namespace", namespace))

	run := types.ReflectionRun{
		Namespace: namespace,
		Status:    types.ReflectionRunning,
		StartedAt: startedAt,
	}

	created, sourceCount, window, err := s.reflect(ctx, namespace)
	run.WindowStart = window.start
	run.WindowEnd = window.end
	run.SourceCount = sourceCount
	run.Created = created
	run.FinishedAt = time.Now().UTC()

	status := "completed"
	switch {
	case err != nil:
		run.Status = types.ReflectionFailed
		run.Error = err.Error()
		status = "failed"
		logger.Error("reflection run failed",
			zap.Int("sources", sourceCount),
			zap.Int("created", created),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	case sourceCount < s.refCfg.MinSourceRecords || sourceCount == 0:
		run.Status = types.ReflectionIdle
		status = "empty"
		logger.Info("reflection window empty",
			zap.Int("sources", sourceCount),
			zap.Duration("elapsed", time.Since(start)))
	default:
		run.Status = types.ReflectionIdle
		logger.Info("reflection run completed",
			zap.Int("sources", sourceCount),
			zap.Int("created", created),
			zap.Duration("elapsed", time.Since(start)))
	}

	s.reflMu.Lock()
	delete(s.running, namespace)
	final := run
	s.lastRuns[namespace] = &final
	s.reflMu.Unlock()

	if err == nil {
		s.publish(types.Event{
			Type:      types.EventReflectionCompleted,
			Namespace: namespace,
			At:        time.Now().UTC(),
		})
	}
	if s.metrics != nil {
		s.metrics.RecordReflectionRun(namespace, status, time.Since(start), created)
	}
}

type reflectionWindow struct {
	start time.Time
	end   time.Time
}

// reflect 扫描窗口、摘要、写回并推进高水位。
// 高水位仅在全部写回成功后推进；空窗口不推进，等记录攒够再反思.
func (s *Service) reflect(ctx context.Context, namespace string) (created, sourceCount int, window reflectionWindow, err error) {
	mark, err := s.records.GetReflectionMark(ctx, namespace)
	if err != nil {
		return 0, 0, window, err
	}

	window.end = time.Now().UTC()
	if mark.IsZero() {
		window.start = window.end.Add(-s.refCfg.Window)
	} else {
		window.start = mark
	}

	s.updateRunningWindow(namespace, window)

	sources, err := s.records.ListSince(ctx, namespace, s.sourceLayers(), window.start, window.end, s.refCfg.MaxSourceRecords)
	if err != nil {
		return 0, 0, window, err
	}
	sourceCount = len(sources)

	if sourceCount == 0 || sourceCount < s.refCfg.MinSourceRecords {
		return 0, sourceCount, window, nil
	}

	blocks, err := s.summarizeSources(ctx, namespace, sources)
	if err != nil {
		return 0, sourceCount, window, err
	}

	sourceIDs := make([]string, len(sources))
	for i, rec := range sources {
		sourceIDs[i] = rec.ID
	}

	for _, block := range blocks {
		if ctx.Err() != nil {
			return created, sourceCount, window, ctx.Err()
		}
		md := map[string]any{"source_ids": sourceIDs}
		if len(block.Tags) > 0 {
			md["tags"] = block.Tags
		}
		// 直接走内部管线，不占请求工作池；去重吸收重试产生的重复
		res, ierr := s.ingest(ctx, IngestRequest{
			Namespace: namespace,
			Text:      block.Content(),
			Source:    "reflection",
			Layer:     types.LayerReflective,
			Metadata:  md,
		})
		if ierr != nil {
			return created, sourceCount, window, ierr
		}
		if !res.Deduplicated {
			created += len(res.Records)
		}
	}

	if err := s.records.SetReflectionMark(ctx, namespace, window.end); err != nil {
		return created, sourceCount, window, err
	}
	return created, sourceCount, window, nil
}

// summarizeSources 调用摘要器并解析反思块；解析不出任何块时
// 退回一条兜底反思，保证一轮有产出的反思总能落库.
func (s *Service) summarizeSources(ctx context.Context, namespace string, sources []*types.MemoryRecord) ([]reflectionBlock, error) {
	req := &llm.SummarizeRequest{
		Namespace: namespace,
		MaxBlocks: maxReflectionBlocks,
		Sources:   make([]llm.SummarizeSource, len(sources)),
	}
	for i, rec := range sources {
		req.Sources[i] = llm.SummarizeSource{
			ID:        rec.ID,
			Layer:     string(rec.Layer),
			Text:      rec.Text,
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	raw, err := s.summarizer.Summarize(ctx, req)
	if err != nil {
		return nil, err
	}

	blocks := parseReflectionBlocks(raw)
	if len(blocks) == 0 {
		s.logger.Warn("summarizer output had no parseable blocks, using fallback",
			zap.String("namespace", namespace),
			zap.String("summarizer", s.summarizer.Name()))
		blocks = []reflectionBlock{{
			Reflection: defaultReflectionText,
			Tags:       []string{"general", "reflection"},
		}}
	}
	if len(blocks) > maxReflectionBlocks {
		blocks = blocks[:maxReflectionBlocks]
	}
	return blocks, nil
}

func (s *Service) updateRunningWindow(namespace string, window reflectionWindow) {
	s.reflMu.Lock()
	defer s.reflMu.Unlock()
	if cur, ok := s.running[namespace]; ok {
		cur.WindowStart = window.start
		cur.WindowEnd = window.end
	}
}

// sourceLayers 解析配置的源层，非法项跳过，为空退回默认.
func (s *Service) sourceLayers() []types.MemoryLayer {
	layers := make([]types.MemoryLayer, 0, len(s.refCfg.SourceLayers))
	for _, raw := range s.refCfg.SourceLayers {
		l, err := types.ParseMemoryLayer(raw)
		if err != nil {
			s.logger.Warn("ignoring unknown reflection source layer", zap.String("layer", raw))
			continue
		}
		layers = append(layers, l)
	}
	if len(layers) == 0 {
		layers = []types.MemoryLayer{types.LayerEpisodic, types.LayerSemantic}
	}
	return layers
}

// runScheduler 周期触发所有已知命名空间的反思.
func (s *Service) runScheduler() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refCfg.Interval)
	defer ticker.Stop()

	s.logger.Info("reflection scheduler started",
		zap.Duration("interval", s.refCfg.Interval),
		zap.Duration("window", s.refCfg.Window))

	for {
		select {
		case <-s.baseCtx.Done():
			s.logger.Info("reflection scheduler stopped")
			return
		case <-ticker.C:
			s.scheduleAll()
		}
	}
}

func (s *Service) scheduleAll() {
	namespaces, err := s.records.Namespaces(s.baseCtx)
	if err != nil {
		s.logger.Warn("reflection sweep failed to list namespaces", zap.Error(err))
		return
	}
	for _, ns := range namespaces {
		if _, started, err := s.TriggerReflection(s.baseCtx, ns); err != nil {
			s.logger.Warn("scheduled reflection trigger failed",
				zap.String("namespace", ns),
				zap.Error(err))
		} else if !started {
			s.logger.Debug("scheduled reflection skipped, already running",
				zap.String("namespace", ns))
		}
	}
}

// reflectionBlock 摘要输出中的一个反思块.
type reflectionBlock struct {
	Reflection   string
	Evidence     string
	Implications string
	Tags         []string
}

// Content 拼装落库文本：反思正文加证据与推论小节.
func (b reflectionBlock) Content() string {
	var sb strings.Builder
	sb.WriteString(b.Reflection)
	if b.Evidence != "" {
		sb.WriteString("\n\nEvidence:\n")
		sb.WriteString(b.Evidence)
	}
	if b.Implications != "" {
		sb.WriteString("\n\nImplications:\n")
		sb.WriteString(b.Implications)
	}
	return sb.String()
}

// parseReflectionBlocks 解析摘要器输出。
// 块以 "---" 分隔；块内按独占一行的 REFLECTION:/EVIDENCE:/IMPLICATIONS:/TAGS:
// 分节；没有 REFLECTION 节的块丢弃.
func parseReflectionBlocks(raw string) []reflectionBlock {
	var blocks []reflectionBlock

	for _, rawBlock := range strings.Split(raw, "---") {
		if strings.TrimSpace(rawBlock) == "" {
			continue
		}

		sections := make(map[string][]string)
		current := ""
		for _, line := range strings.Split(rawBlock, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			switch line {
			case "REFLECTION:", "EVIDENCE:", "IMPLICATIONS:", "TAGS:":
				current = strings.ToLower(strings.TrimSuffix(line, ":"))
				continue
			}
			if current != "" {
				sections[current] = append(sections[current], line)
			}
		}

		reflection := strings.Join(sections["reflection"], "\n")
		if reflection == "" {
			continue
		}

		var tags []string
		for _, tag := range strings.Split(strings.Join(sections["tags"], ","), ",") {
			if t := strings.TrimSpace(tag); t != "" {
				tags = append(tags, t)
			}
		}

		blocks = append(blocks, reflectionBlock{
			Reflection:   reflection,
			Evidence:     strings.Join(sections["evidence"], "\n"),
			Implications: strings.Join(sections["implications"], "\n"),
			Tags:         tags,
		})
	}

	return blocks
}
