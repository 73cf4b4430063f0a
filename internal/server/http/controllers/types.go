package controllers

// postValueReq is the body of POST /kv/v1/{key}.
type postValueReq struct {
	Value *string `json:"value"`
}

// backupResp reports an on-demand backup.
type backupResp struct {
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Size     int64  `json:"size"`
	Uploaded bool   `json:"uploaded"`
	Kept     bool   `json:"kept"`
	Error    string `json:"error,omitempty"`
}
