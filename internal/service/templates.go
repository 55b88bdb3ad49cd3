package service

import (
	"embed"
	"fmt"
	"strings"

	"github.com/osteele/liquid"
)

//go:embed templates/*.liquid
var templateFS embed.FS

// 邮件模板名
const (
	TemplateNewPost  = "new_post.txt"
	TemplateContact  = "contact.txt"
	TemplateCallback = "callback.txt"
)

// TemplateRenderer 渲染纯文本邮件模板（Liquid）
type TemplateRenderer struct {
	engine    *liquid.Engine
	templates map[string]*liquid.Template
}

// NewTemplateRenderer 解析全部内置模板
func NewTemplateRenderer() (*TemplateRenderer, error) {
	engine := liquid.NewEngine()
	r := &TemplateRenderer{
		engine:    engine,
		templates: make(map[string]*liquid.Template),
	}

	for _, name := range []string{TemplateNewPost, TemplateContact, TemplateCallback} {
		src, err := templateFS.ReadFile("templates/" + name + ".liquid")
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		tpl, perr := engine.ParseTemplate(src)
		if perr != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, perr)
		}
		r.templates[name] = tpl
	}
	return r, nil
}

// MustTemplateRenderer 内置模板解析失败属于编程错误
func MustTemplateRenderer() *TemplateRenderer {
	r, err := NewTemplateRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render 渲染模板，结果去除首尾空白并保证以换行结束
func (r *TemplateRenderer) Render(name string, bindings map[string]any) (string, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(out) + "\n", nil
}
