// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// Built-in error body templates by content type. Deployments override or
// extend these per status code through the error_templates configuration.
var builtinErrorTemplates = map[string]string{
	"text/plain": "%(code)s %(title)s\n%(description)s\n",
	"text/html": "<html><head><title>%(code)s %(title)s</title></head>" +
		"<body><h1>%(code)s %(title)s</h1><p>%(description)s</p></body></html>\n",
}

// renderTemplate interpolates the %(code)s, %(title)s and %(description)s
// substitution keys.
func renderTemplate(template string, code int, title, description string) string {
	return strings.NewReplacer(
		"%(code)s", strconv.Itoa(code),
		"%(title)s", title,
		"%(description)s", description,
	).Replace(template)
}

// errorTemplateFor returns the body template for a status code and content
// type, preferring configured templates over built-ins.
func (h *Handler) errorTemplateFor(code int, contentType string) (string, bool) {
	if byType, ok := h.config.ErrorTemplates[strconv.Itoa(code)]; ok {
		if template, ok := byType[contentType]; ok {
			return template, true
		}
	}
	template, ok := builtinErrorTemplates[contentType]
	return template, ok
}

// errorContentTypes lists the renderable content types for a status code.
func (h *Handler) errorContentTypes(code int) []string {
	types := []string{"application/json"}
	for contentType := range h.config.ErrorTemplates[strconv.Itoa(code)] {
		types = append(types, contentType)
	}
	for contentType := range builtinErrorTemplates {
		types = append(types, contentType)
	}
	return types
}

// negotiate picks the first Accept entry renderable from available, in
// the order the client listed them. No acceptable entry falls back to the
// first available type.
func negotiate(accept string, available []string) string {
	for _, entry := range strings.Split(accept, ",") {
		mediaType := strings.TrimSpace(strings.SplitN(entry, ";", 2)[0])
		if mediaType == "" {
			continue
		}
		for _, candidate := range available {
			if mediaType == candidate || mediaType == "*/*" {
				return candidate
			}
			if strings.HasSuffix(mediaType, "/*") &&
				strings.HasPrefix(candidate, strings.TrimSuffix(mediaType, "*")) {
				return candidate
			}
		}
	}
	return available[0]
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	herr, ok := hatrac.AsError(err)
	if !ok {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		herr = hatrac.NewInternal("internal server error")
	}

	contentType := negotiate(r.Header.Get("Accept"), h.errorContentTypes(herr.Status))

	var body string
	if template, ok := h.errorTemplateFor(herr.Status, contentType); ok && contentType != "application/json" {
		body = renderTemplate(template, herr.Status, herr.Title, herr.Description)
	} else {
		contentType = "application/json"
		data, _ := json.Marshal(map[string]interface{}{
			"code":        herr.Status,
			"title":       herr.Title,
			"description": herr.Description,
		})
		body = string(data) + "\n"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(herr.Status)
	if r.Method != http.MethodHead {
		_, _ = fmt.Fprint(w, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	data = append(data, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeText writes a text/uri-list or plain body.
func writeText(w http.ResponseWriter, status int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}
