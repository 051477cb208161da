// Package model defines the form and rendering types shared by the provider
// chain, the runtime context store and the form service. Form definitions are
// decoded from the server-supplied JSON payload, so struct fields carry json
// tags matching that payload. RenderingSettings describe one render request
// (task or process start); FormRenderingSettings describe what a render
// produced (an embedded rendering model or a pointer to an external renderer).
package model
