// Package output provides output formatting functionality for client commands.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pterm/pterm"
)

// Format 输出格式
type Format string

const (
	// FormatJSON JSON格式
	FormatJSON Format = "json"
	// FormatPretty 美化JSON格式
	FormatPretty Format = "pretty"
	// FormatTable 表格格式（默认）
	FormatTable Format = "table"
)

// Tabular 可以按表格输出的数据，第一行为表头
type Tabular interface {
	Table() [][]string
}

// Formatter 输出格式化器
//
// 数据写 writer（stdout），提示信息写 logWriter（stderr），避免污染 JSON。
type Formatter struct {
	format    Format
	writer    io.Writer
	logWriter io.Writer
	silent    bool
}

// NewFormatter 创建格式化器
func NewFormatter(format Format, writer io.Writer) *Formatter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Formatter{
		format:    format,
		writer:    writer,
		logWriter: os.Stderr,
	}
}

// SetLogWriter 设置提示输出目标（默认 stderr）
func (f *Formatter) SetLogWriter(writer io.Writer) {
	if writer == nil {
		writer = os.Stderr
	}
	f.logWriter = writer
}

// SetSilent 静默模式下只输出数据
func (f *Formatter) SetSilent(silent bool) {
	f.silent = silent
}

// Print 打印数据
func (f *Formatter) Print(data interface{}) error {
	switch f.format {
	case FormatJSON:
		return f.printJSON(data, false)
	case FormatPretty:
		return f.printJSON(data, true)
	default:
		return f.printTable(data)
	}
}

func (f *Formatter) printJSON(data interface{}, pretty bool) error {
	var (
		out []byte
		err error
	)
	if pretty {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if _, err := fmt.Fprintln(f.writer, string(out)); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (f *Formatter) printTable(data interface{}) error {
	var rows [][]string
	switch v := data.(type) {
	case Tabular:
		rows = v.Table()
	case map[string]interface{}:
		rows = mapRows(v)
	case map[string]string:
		m := make(map[string]interface{}, len(v))
		for k, s := range v {
			m[k] = s
		}
		rows = mapRows(m)
	default:
		return f.printJSON(data, true)
	}
	if len(rows) <= 1 {
		_, err := fmt.Fprintln(f.writer, "(empty)")
		return err
	}

	s, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	if _, err := fmt.Fprintln(f.writer, s); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// PrintSuccess 成功提示
func (f *Formatter) PrintSuccess(message string) {
	if f.silent {
		return
	}
	_, _ = fmt.Fprint(f.logWriter, pterm.Success.Sprintln(message))
}

// PrintError 错误提示，静默模式下也输出
func (f *Formatter) PrintError(err error) {
	_, _ = fmt.Fprint(f.logWriter, pterm.Error.Sprintln(err.Error()))
}

// PrintWarning 警告提示
func (f *Formatter) PrintWarning(message string) {
	if f.silent {
		return
	}
	_, _ = fmt.Fprint(f.logWriter, pterm.Warning.Sprintln(message))
}

// PrintInfo 信息提示
func (f *Formatter) PrintInfo(message string) {
	if f.silent {
		return
	}
	_, _ = fmt.Fprint(f.logWriter, pterm.Info.Sprintln(message))
}

// ===== 辅助函数 =====

func mapRows(m map[string]interface{}) [][]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := [][]string{{"Key", "Value"}}
	for _, k := range keys {
		rows = append(rows, []string{k, FormatValue(m[k])})
	}
	return rows
}

// FormatValue 单元格文本
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int, int64, uint, uint64:
		return fmt.Sprintf("%d", v)
	case bool:
		if v {
			return "yes"
		}
		return "no"
	case nil:
		return "-"
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
