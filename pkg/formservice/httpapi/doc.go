// Package httpapi exposes the form service over net/http with JSON payloads.
//
// Routes are relative to the mount path (default /api/forms):
//
//	GET    /tasks/{taskID}?serverTemplateId=&domainId=
//	GET    /processes/{processID}?serverTemplateId=&domainId=&dynamic=
//	POST   /contexts/{token}/{start|claim|release|save|complete}
//	DELETE /contexts/{token}
//
// Submit bodies carry the current field values as {"values": {...}}. Each
// context token gets its own async validation engine so error keys survive
// between attempts until the context is completed or cleared.
package httpapi
