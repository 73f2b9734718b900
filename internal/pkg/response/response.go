package response

// Response 为统一响应包装. Results 承载业务数据, Detail 用于错误说明.
type Response struct {
	Results interface{} `json:"results"`
	Detail  string      `json:"detail"`
}
