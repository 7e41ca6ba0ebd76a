/*
 * @module service/cleaning/export
 * @description 清洗结果输出：将清洗后的数据集写成分隔文本文件
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow Result.Datasets -> Sink.Write -> <目录>/<数据集>_cleaned.csv
 * @rules 列顺序与摄取时一致；取值按 Value.String 输出，空值为空单元格；文件先写临时文件再替换
 * @dependencies encoding/csv
 * @refs service/ingestion/source.go, service/pipeline/runner.go
 */

package cleaning

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"dataquality-service/service/models"
)

// Sink 清洗后数据集的输出目标
type Sink interface {
	Write(ctx context.Context, ds *models.Dataset) error
}

// DirSink 写入目录，每个数据集一个文件
type DirSink struct {
	Dir       string
	Delimiter rune
}

// Path 数据集对应的输出文件
func (s DirSink) Path(dataset string) string {
	return filepath.Join(s.Dir, dataset+"_cleaned.csv")
}

// Write 写入单个数据集
func (s DirSink) Write(ctx context.Context, ds *models.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, "."+ds.Name+"-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if s.Delimiter != 0 {
		w.Comma = s.Delimiter
	}
	if err := w.Write(ds.Columns); err != nil {
		tmp.Close()
		return fmt.Errorf("写入数据集 %s 失败: %w", ds.Name, err)
	}
	row := make([]string, len(ds.Columns))
	for _, rec := range ds.Records {
		for i, col := range ds.Columns {
			row[i] = rec.Get(col).String()
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("写入数据集 %s 失败: %w", ds.Name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("写入数据集 %s 失败: %w", ds.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入数据集 %s 失败: %w", ds.Name, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(ds.Name)); err != nil {
		return fmt.Errorf("写入数据集 %s 失败: %w", ds.Name, err)
	}
	return nil
}

// Export 按名称顺序输出全部清洗后的数据集，单个失败不影响其他数据集
func (r *Result) Export(ctx context.Context, sink Sink) error {
	names := make([]string, 0, len(r.Datasets))
	for name := range r.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []error
	for _, name := range names {
		if err := sink.Write(ctx, r.Datasets[name]); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("输出清洗结果失败: %w", errors.Join(failed...))
	}
	return nil
}
