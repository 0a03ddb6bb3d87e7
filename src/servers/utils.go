package servers

import (
	"encoding/json"
	"net/http"
)

type commonResp struct {
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
	Data   any    `json:"data"`
}

func writeJSON(writer http.ResponseWriter, obj any) {
	writeJsonWithStatusCode(writer, http.StatusOK, obj)
}

func writeJsonWithStatusCode(writer http.ResponseWriter, code int, obj any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	_ = json.NewEncoder(writer).Encode(obj)
}

func writeError(writer http.ResponseWriter, code int, err error) {
	writeJsonWithStatusCode(writer, code, commonResp{
		ErrNo:  code,
		ErrMsg: err.Error(),
	})
}
