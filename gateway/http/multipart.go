package http

// Field is one tuple emitted by the multipart body-parsing collaborator.
// Parsing itself lives outside this package; the listener only consumes the
// resulting field stream.
type Field struct {
	Name        string
	Value       string
	IsFile      bool
	IsTruncated bool
	MimeType    string
	Encoding    string
}

// CollectFields accumulates each named field from the stream into the
// request body and returns the mutated request once the stream ends. An
// empty stream returns the request unchanged. A later field with the same
// name overwrites an earlier one.
func CollectFields(req *Request, fields <-chan Field) *Request {
	for f := range fields {
		if req.Body == nil {
			req.Body = make(map[string]any)
		}
		if f.IsFile {
			req.Body[f.Name] = f
		} else {
			req.Body[f.Name] = f.Value
		}
	}
	return req
}
