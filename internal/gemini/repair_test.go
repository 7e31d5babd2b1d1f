package gemini

import (
	"encoding/json"
	"reflect"
	"testing"
)

// TestRepairJSONStripsFences 围栏包裹的合法JSON修复后应与原文等价
func TestRepairJSONStripsFences(t *testing.T) {
	original := map[string]any{"procedureName": "Appendectomy", "steps": []any{"a", "b"}}
	raw, _ := json.Marshal(original)

	cases := []string{
		"```json\n" + string(raw) + "\n```",
		"```\n" + string(raw) + "\n```",
		"  " + string(raw) + "  ",
	}
	for _, in := range cases {
		var got map[string]any
		if err := json.Unmarshal([]byte(RepairJSON(in)), &got); err != nil {
			t.Fatalf("repaired output unparsable for %q: %v", in, err)
		}
		if !reflect.DeepEqual(got, original) {
			t.Fatalf("repaired = %v, want %v", got, original)
		}
	}
}

// TestRepairJSONTrailingCommas 只去掉闭括号前的逗号，其他内容不动
func TestRepairJSONTrailingCommas(t *testing.T) {
	in := `{"a": 1, "b": [1, 2, ], "c": {"d": 2, }, }`
	var got map[string]any
	if err := json.Unmarshal([]byte(RepairJSON(in)), &got); err != nil {
		t.Fatalf("repaired output unparsable: %v", err)
	}
	if got["a"].(float64) != 1 {
		t.Fatalf("a = %v, want 1", got["a"])
	}
	if len(got["b"].([]any)) != 2 {
		t.Fatalf("b = %v, want two elements", got["b"])
	}
}

// TestRepairJSONTruncatedArray 在数组中途截断时补齐"]}"
func TestRepairJSONTruncatedArray(t *testing.T) {
	in := `{"procedureName": "X", "steps": ["first", "second"`
	var got map[string]any
	if err := json.Unmarshal([]byte(RepairJSON(in)), &got); err != nil {
		t.Fatalf("repaired output unparsable: %v", err)
	}
	if len(got["steps"].([]any)) != 2 {
		t.Fatalf("steps = %v, want two elements", got["steps"])
	}
}

// TestRepairJSONNeverPanics 修复不了的奇形怪状输入也不允许panic，
// 解析失败由调用方按格式错误上报
func TestRepairJSONNeverPanics(t *testing.T) {
	for _, in := range []string{
		"",
		"not json at all",
		`{"a": "truncated mid str`,
		"```json",
		`[1, 2, 3`,
	} {
		_ = RepairJSON(in)
	}
}
