// Package es 提供了营养条目检索索引 (Elasticsearch) 的读写功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nutri-snap-go/internal/config"
	"nutri-snap-go/internal/model"
	"nutri-snap-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexMapping = `{
	"mappings": {
		"properties": {
			"doc_id":    { "type": "keyword" },
			"upload_id": { "type": "keyword" },
			"owner_id":  { "type": "keyword" },
			"file_name": { "type": "keyword" },
			"position":  { "type": "integer" },
			"name": {
				"type": "text",
				"fields": { "keyword": { "type": "keyword", "ignore_above": 256 } }
			},
			"calories": { "type": "integer" },
			"protein":  { "type": "integer" },
			"fat":      { "type": "integer" },
			"carbs":    { "type": "integer" }
		}
	}
}`

// NutritionIndex 把识别出的营养条目写入 Elasticsearch，并按所有者检索。
type NutritionIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewNutritionIndex 初始化 Elasticsearch 客户端，并确保索引存在。
func NewNutritionIndex(ctx context.Context, esCfg config.ElasticsearchConfig) (*NutritionIndex, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, err
	}
	x := &NutritionIndex{client: client, index: esCfg.IndexName}
	if err := x.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它。
func (x *NutritionIndex) EnsureIndex(ctx context.Context) error {
	res, err := x.client.Indices.Exists([]string{x.index}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", x.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = x.client.Indices.Create(
		x.index,
		x.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		x.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", x.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", x.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}
	log.Infof("索引 '%s' 创建成功", x.index)
	return nil
}

func docID(uploadID string, position int) string {
	return fmt.Sprintf("%s_%d", uploadID, position)
}

// IndexItems 以 {uploadId}_{position} 为文档 ID 批量写入条目，
// 重复写入会覆盖同一批文档，多余的旧文档随后被删除。
func (x *NutritionIndex) IndexItems(ctx context.Context, file *model.UploadFile, items []model.NutritionItem) error {
	if len(items) > 0 {
		var body bytes.Buffer
		enc := json.NewEncoder(&body)
		for _, it := range items {
			doc := model.EsNutritionDocument{
				DocID:    docID(file.ID, it.Position),
				UploadID: file.ID,
				OwnerID:  file.OwnerID,
				FileName: file.Name,
				Position: it.Position,
				Name:     it.Name,
				Calories: it.Calories,
				Protein:  it.Protein,
				Fat:      it.Fat,
				Carbs:    it.Carbs,
			}
			meta := map[string]map[string]string{"index": {"_index": x.index, "_id": doc.DocID}}
			if err := enc.Encode(meta); err != nil {
				return err
			}
			if err := enc.Encode(doc); err != nil {
				return err
			}
		}

		req := esapi.BulkRequest{Body: &body, Refresh: "true"}
		res, err := req.Do(ctx, x.client)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("bulk index: %s", res.String())
		}
		var br struct {
			Errors bool `json:"errors"`
		}
		if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
			return fmt.Errorf("decode bulk response: %w", err)
		}
		if br.Errors {
			return errors.New("bulk index: some documents were rejected")
		}
	}

	return x.deleteByQuery(ctx, map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"upload_id": file.ID}},
				map[string]interface{}{"range": map[string]interface{}{"position": map[string]interface{}{"gte": len(items)}}},
			},
		},
	})
}

// DeleteUpload 删除某条上传记录的全部文档。
func (x *NutritionIndex) DeleteUpload(ctx context.Context, uploadID string) error {
	return x.deleteByQuery(ctx, map[string]interface{}{
		"term": map[string]interface{}{"upload_id": uploadID},
	})
}

func (x *NutritionIndex) deleteByQuery(ctx context.Context, query map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:   []string{x.index},
		Body:    bytes.NewReader(body),
		Refresh: &refresh,
	}
	res, err := req.Do(ctx, x.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by query: %s", res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64                   `json:"_score"`
			Source model.EsNutritionDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在 ownerID 的条目中按名称检索。
func (x *NutritionIndex) Search(ctx context.Context, ownerID, query string, size int) ([]model.NutritionSearchHit, error) {
	body, err := json.Marshal(map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"name": map[string]interface{}{"query": query, "fuzziness": "AUTO"},
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"owner_id": ownerID},
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.index),
		x.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := make([]model.NutritionSearchHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		d := h.Source
		hits = append(hits, model.NutritionSearchHit{
			UploadID: d.UploadID,
			FileName: d.FileName,
			Name:     d.Name,
			Calories: d.Calories,
			Protein:  d.Protein,
			Fat:      d.Fat,
			Carbs:    d.Carbs,
			Score:    h.Score,
		})
	}
	return hits, nil
}
