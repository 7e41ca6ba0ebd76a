/*
 * @module service/ingestion/source
 * @description 摄取数据源：本地文件与内存字节，以及字符集解码
 * @architecture 分层架构 - 数据接入层
 * @documentReference DESIGN.md
 * @stateFlow Source.Read -> 原始字节(用于指纹) -> decode -> UTF-8 文本
 * @rules 指纹基于解码前的原始字节计算
 * @dependencies golang.org/x/text/encoding/charmap, golang.org/x/text/encoding/simplifiedchinese
 * @refs service/ingestion/pipeline.go
 */

package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dataquality-service/service/config"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Source 可摄取的数据源
type Source interface {
	// Dataset 对应的数据集名称
	Dataset() string
	// Location 审计中记录的来源描述
	Location() string
	Read(ctx context.Context) ([]byte, error)
}

// FileSource 本地分隔文本文件
type FileSource struct {
	Name string
	Path string
}

// Dataset 数据集名称
func (s FileSource) Dataset() string { return s.Name }

// Location 文件路径
func (s FileSource) Location() string { return s.Path }

// Read 读取文件内容
func (s FileSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("读取文件 %s 失败: %w", s.Path, err)
	}
	return data, nil
}

// BytesSource 内存中的数据，用于接口上传与测试
type BytesSource struct {
	Name  string
	Label string
	Data  []byte
}

// Dataset 数据集名称
func (s BytesSource) Dataset() string { return s.Name }

// Location 来源标签
func (s BytesSource) Location() string {
	if s.Label != "" {
		return s.Label
	}
	return "memory:" + s.Name
}

// Read 返回内存数据
func (s BytesSource) Read(ctx context.Context) ([]byte, error) {
	return s.Data, ctx.Err()
}

// SourcesFromSettings 按配置生成各数据集的文件数据源，顺序与声明一致
func SourcesFromSettings(settings *config.Settings) []Source {
	sources := make([]Source, 0, len(settings.Datasets))
	for _, d := range settings.Datasets {
		sources = append(sources, FileSource{
			Name: d.Name,
			Path: filepath.Join(settings.Ingestion.DataDir, d.File),
		})
	}
	return sources
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decode 将原始字节按声明字符集转换为 UTF-8
func decode(data []byte, charset string) ([]byte, error) {
	var enc encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return bytes.TrimPrefix(data, utf8BOM), nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		enc = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	case "gbk", "gb2312":
		enc = simplifiedchinese.GBK
	default:
		return nil, fmt.Errorf("不支持的字符集: %s", charset)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("按 %s 解码失败: %w", charset, err)
	}
	return out, nil
}
