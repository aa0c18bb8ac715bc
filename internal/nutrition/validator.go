// Package nutrition 校验并规范化视觉模型返回的营养数据。
//
// 合法输出的结构为 {"items":[{"name":..., "calories":..., "protein":..., "carbs":..., "fat":...}]}。
// 任意一个条目不合法都会导致整批被拒绝。
package nutrition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrValidation 表示模型输出不符合营养数据结构。
var ErrValidation = errors.New("invalid nutrition output")

// MaxValue 是单个数值字段允许的上限。
const MaxValue = 1_000_000

// Item 是校验通过、已取整的单个食物条目。
type Item struct {
	Name     string `json:"name"`
	Calories int    `json:"calories"`
	Protein  int    `json:"protein"`
	Fat      int    `json:"fat"`
	Carbs    int    `json:"carbs"`
}

var numericFields = []string{"calories", "protein", "carbs", "fat"}

// Validate 解析模型的原始文本输出。只去掉首尾空白，不做其他修复。
// 小数四舍五入 (远离零) 到整数。
func Validate(raw string) ([]Item, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.UseNumber()

	var top interface{}
	if err := dec.Decode(&top); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", ErrValidation, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrValidation)
	}

	obj, ok := top.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrValidation)
	}
	rawItems, ok := obj["items"]
	if !ok {
		return nil, fmt.Errorf("%w: missing \"items\"", ErrValidation)
	}
	list, ok := rawItems.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: \"items\" must be an array", ErrValidation)
	}

	items := make([]Item, 0, len(list))
	for i, el := range list {
		item, err := validateItem(el)
		if err != nil {
			return nil, fmt.Errorf("%w: items[%d]: %v", ErrValidation, i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func validateItem(el interface{}) (Item, error) {
	m, ok := el.(map[string]interface{})
	if !ok {
		return Item{}, errors.New("must be an object")
	}

	name, ok := m["name"].(string)
	if !ok {
		return Item{}, errors.New("name must be a string")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Item{}, errors.New("name must not be empty")
	}

	values := make(map[string]int, len(numericFields))
	for _, field := range numericFields {
		v, present := m[field]
		if !present {
			return Item{}, fmt.Errorf("%s is missing", field)
		}
		n, err := coerce(v)
		if err != nil {
			return Item{}, fmt.Errorf("%s: %v", field, err)
		}
		values[field] = n
	}

	return Item{
		Name:     name,
		Calories: values["calories"],
		Protein:  values["protein"],
		Fat:      values["fat"],
		Carbs:    values["carbs"],
	}, nil
}

// coerce 只接受 JSON 数字，拒绝字符串、布尔、null。
func coerce(v interface{}) (int, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
	f, err := strconv.ParseFloat(num.String(), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("not a finite number: %s", num)
	}
	if f < 0 {
		return 0, fmt.Errorf("must not be negative: %s", num)
	}
	r := math.Round(f)
	if r > MaxValue {
		return 0, fmt.Errorf("exceeds %d: %s", MaxValue, num)
	}
	return int(r), nil
}
