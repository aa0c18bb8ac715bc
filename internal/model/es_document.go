package model

// NutritionSearchHit 定义了返回给前端的检索结果结构。
type NutritionSearchHit struct {
	UploadID string  `json:"uploadId"`
	FileName string  `json:"fileName"`
	Name     string  `json:"name"`
	Calories int     `json:"calories"`
	Protein  int     `json:"protein"`
	Fat      int     `json:"fat"`
	Carbs    int     `json:"carbs"`
	Score    float64 `json:"score"`
}

// EsNutritionDocument 定义了存储在 Elasticsearch 中的营养条目文档。
type EsNutritionDocument struct {
	DocID    string `json:"doc_id"` // uploadId + position
	UploadID string `json:"upload_id"`
	OwnerID  string `json:"owner_id"`
	FileName string `json:"file_name"`
	Position int    `json:"position"`
	Name     string `json:"name"`
	Calories int    `json:"calories"`
	Protein  int    `json:"protein"`
	Fat      int    `json:"fat"`
	Carbs    int    `json:"carbs"`
}
