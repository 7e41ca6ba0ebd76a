/*
 * @module service/ingestion/pipeline
 * @description 摄取流水线：读取分隔文本，计算指纹，类型转换，结构校验，记录审计
 * @architecture 分层架构 - 数据接入层
 * @documentReference DESIGN.md
 * @stateFlow Read -> Fingerprint -> (未变化则复用快照) -> decode -> csv 解析 -> 类型转换 -> 结构校验 -> 审计
 * @rules 每次摄取尝试恰好记录一条审计条目；单个数据集失败不影响其他数据集
 * @dependencies encoding/csv, github.com/spf13/cast(经 rules.Coerce)
 * @refs service/audit/recorder.go, service/ingestion/schema.go
 */

package ingestion

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"unicode/utf8"

	"dataquality-service/service/audit"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/service/rules"
)

type snapshot struct {
	fingerprint string
	dataset     *models.Dataset
}

// Pipeline 摄取流水线
type Pipeline struct {
	settings  *config.Settings
	recorder  *audit.Recorder
	validator *SchemaValidator

	mu        sync.Mutex
	snapshots map[string]snapshot
}

// NewPipeline 创建摄取流水线
func NewPipeline(settings *config.Settings, recorder *audit.Recorder) *Pipeline {
	return &Pipeline{
		settings:  settings,
		recorder:  recorder,
		validator: NewSchemaValidator(),
		snapshots: map[string]snapshot{},
	}
}

// Batch 一次批量摄取的结果
type Batch struct {
	Datasets map[string]*models.Dataset
	// Excluded 被排除的数据集及原因
	Excluded map[string]error
	Entries  []*models.AuditEntry
}

// ExcludedNames 被排除的数据集名称，按名称排序
func (b *Batch) ExcludedNames() []string {
	names := make([]string, 0, len(b.Excluded))
	for name := range b.Excluded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IngestAll 按顺序摄取所有数据源，失败的数据集被排除，其余继续
func (p *Pipeline) IngestAll(ctx context.Context, sources []Source) *Batch {
	batch := &Batch{
		Datasets: map[string]*models.Dataset{},
		Excluded: map[string]error{},
	}
	for _, src := range sources {
		ds, entry, err := p.ingest(ctx, src)
		if entry != nil {
			batch.Entries = append(batch.Entries, entry)
		}
		if err != nil {
			batch.Excluded[src.Dataset()] = err
			slog.Warn("数据集已排除", "dataset", src.Dataset(), "error", err)
			continue
		}
		batch.Datasets[src.Dataset()] = ds
	}
	return batch
}

// Ingest 摄取单个数据源
func (p *Pipeline) Ingest(ctx context.Context, src Source) (*models.Dataset, error) {
	ds, _, err := p.ingest(ctx, src)
	return ds, err
}

func (p *Pipeline) ingest(ctx context.Context, src Source) (*models.Dataset, *models.AuditEntry, error) {
	entry := &models.AuditEntry{
		Dataset: src.Dataset(),
		Source:  src.Location(),
	}

	ds, err := p.load(ctx, src, entry)
	if err != nil {
		entry.Errors = append(entry.Errors, err.Error())
		if entry.Outcome == "" {
			entry.Outcome = models.OutcomeLoadError
		}
	}

	if recErr := p.recorder.Record(ctx, entry); recErr != nil {
		return nil, entry, fmt.Errorf("记录审计条目失败: %w", recErr)
	}
	if err != nil {
		return nil, entry, err
	}
	return ds, entry, nil
}

func (p *Pipeline) load(ctx context.Context, src Source, entry *models.AuditEntry) (*models.Dataset, error) {
	schema, ok := p.settings.Dataset(src.Dataset())
	if !ok {
		return nil, fmt.Errorf("数据集 %s 未在配置中声明", src.Dataset())
	}

	raw, err := src.Read(ctx)
	if err != nil {
		return nil, err
	}
	entry.Fingerprint = audit.Fingerprint(raw)

	if ds := p.unchanged(ctx, schema.Name, entry.Fingerprint); ds != nil {
		entry.Outcome = models.OutcomeUnchanged
		entry.Rows = ds.Len()
		entry.Columns = len(ds.Columns)
		slog.Info("数据集内容未变化，复用上次快照", "dataset", schema.Name, "fingerprint", entry.Fingerprint)
		return ds, nil
	}

	charset := schema.Encoding
	if charset == "" {
		charset = p.settings.Ingestion.Encoding
	}
	text, err := decode(raw, charset)
	if err != nil {
		return nil, err
	}

	ds, details, err := p.parse(schema, text, entry)
	if err != nil {
		return nil, err
	}
	entry.Rows = ds.Len()
	entry.Columns = len(ds.Columns)

	if problems := p.validator.CheckRecords(schema, ds); len(problems) > 0 {
		entry.Outcome = models.OutcomeSchemaError
		return nil, &models.SchemaError{Dataset: schema.Name, Problems: problems}
	}

	details["null_pct"] = p.validator.Profile(ds)
	if jsonb, err := models.ToJSONB(details); err == nil {
		entry.Details = jsonb
	}
	entry.Outcome = models.OutcomeSuccess

	p.mu.Lock()
	p.snapshots[schema.Name] = snapshot{fingerprint: entry.Fingerprint, dataset: ds.Clone()}
	p.mu.Unlock()

	slog.Info("数据集摄取完成", "dataset", schema.Name, "rows", ds.Len(), "columns", len(ds.Columns))
	return ds, nil
}

// unchanged 指纹与最近一次成功摄取一致且持有快照时返回快照副本
func (p *Pipeline) unchanged(ctx context.Context, dataset, fingerprint string) *models.Dataset {
	p.mu.Lock()
	snap, ok := p.snapshots[dataset]
	p.mu.Unlock()
	if !ok || snap.fingerprint != fingerprint {
		return nil
	}
	last, err := p.recorder.LastSuccessful(ctx, dataset)
	if err != nil || last == nil || last.Fingerprint != fingerprint {
		return nil
	}
	return snap.dataset.Clone()
}

func (p *Pipeline) parse(schema *config.DatasetSchema, text []byte, entry *models.AuditEntry) (*models.Dataset, map[string]interface{}, error) {
	delimiter := schema.Delimiter
	if delimiter == "" {
		delimiter = p.settings.Ingestion.Delimiter
	}
	reader := csv.NewReader(bytes.NewReader(text))
	if delimiter != "" {
		r, _ := utf8.DecodeRuneInString(delimiter)
		reader.Comma = r
	}
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		entry.Outcome = models.OutcomeSchemaError
		return nil, nil, &models.SchemaError{Dataset: schema.Name, Problems: []string{"文件为空，缺少表头"}}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("解析表头失败: %w", err)
	}

	check := p.validator.CheckHeader(schema, header)
	entry.Warnings = append(entry.Warnings, check.Warnings...)
	if len(check.Problems) > 0 {
		entry.Outcome = models.OutcomeSchemaError
		return nil, nil, &models.SchemaError{Dataset: schema.Name, Problems: check.Problems}
	}

	ds := models.NewDataset(schema.Name, schema.ColumnNames())
	mismatches := map[string]int{}
	shortRows := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("解析第 %d 行失败: %w", ds.Len()+2, err)
		}
		if len(row) == 1 && row[0] == "" {
			continue
		}
		if len(row) < len(header) {
			shortRows++
		}

		rec := make(models.Record, len(schema.Columns))
		for _, c := range schema.Columns {
			idx := check.Index[c.Name]
			cell := ""
			if idx < len(row) {
				cell = row[idx]
			}
			v, ok := rules.Coerce(c.Type, cell)
			if !ok {
				mismatches[c.Name]++
			}
			rec[c.Name] = v
		}
		ds.Records = append(ds.Records, rec)
	}

	if shortRows > 0 {
		entry.Warnings = append(entry.Warnings, fmt.Sprintf("%d 行字段数不足，缺失单元格按空值处理", shortRows))
	}
	details := map[string]interface{}{
		"type_mismatches": mismatches,
	}
	return ds, details, nil
}
