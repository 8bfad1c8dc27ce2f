// Package table 是记录序列的内存存储：有序的行 + 决定列顺序的表头，
// 以 CSV（UTF-8、首行表头）读写。
package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/fsx"
)

// Table 是一份完整物化的记录序列。
//
// 不变量：
// - Header 无重复列名
// - Rows 中的每一行只会使用 Header 中的列（写出时多余的键被忽略）
type Table struct {
	Header []string
	Rows   []domain.Row
}

// New 以 header 的拷贝构造空表。
func New(header []string) *Table {
	return &Table{Header: append([]string(nil), header...)}
}

// MissingColumnError 表示输入缺少必需列（整张表不可用，而不是某一行的缺陷）。
type MissingColumnError struct {
	Columns []string
}

func (e *MissingColumnError) Error() string {
	return "缺少必需列：" + strings.Join(e.Columns, ", ")
}

// IsMissingColumn 判断 err 是否为缺列错误。
func IsMissingColumn(err error) bool {
	var e *MissingColumnError
	return errors.As(err, &e)
}

// HasColumn 判断表头是否包含 col。
func (t *Table) HasColumn(col string) bool {
	for _, h := range t.Header {
		if h == col {
			return true
		}
	}
	return false
}

// Require 校验表头包含全部 cols；缺失时返回 *MissingColumnError（列出全部缺失列）。
func (t *Table) Require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnError{Columns: missing}
	}
	return nil
}

// EnsureColumn 在表头末尾追加 col（已存在则不变）。
func (t *Table) EnsureColumn(col string) {
	if !t.HasColumn(col) {
		t.Header = append(t.Header, col)
	}
}

// Read 从 CSV 读取整张表。
//
// - 首行为表头；允许 UTF-8 BOM
// - 行字段数可以少于表头（缺失的尾部字段视为空串），多出的字段被忽略
// - 全空字段的行（分隔行）原样保留为空白行
// - 未加引号字段中的裸引号按字面保留（如 The 12" Cut）
func Read(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && bytes.Equal(b, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("CSV 为空或缺少表头")
		}
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	t := New(header)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(domain.Row, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadFile 读取 path 指向的 CSV 文件。
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("读取 %q 失败：%w", path, err)
	}
	return t, nil
}

// Write 以表头顺序写出 CSV。
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	rec := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, h := range t.Header {
			rec[i] = row[h]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Bytes 返回 CSV 编码结果。
func (t *Table) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile 原子写出到 path（临时文件 + rename，覆盖已有文件）。
func (t *Table) WriteFile(path string) error {
	b, err := t.Bytes()
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicTo(path, b)
}

func checkHeader(header []string) error {
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			return fmt.Errorf("重复的列名：%q", h)
		}
		seen[h] = struct{}{}
	}
	return nil
}
