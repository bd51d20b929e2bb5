// Package errors extends the standard errors package with categorized,
// component-tagged errors. It re-exports Is, As, Join and Unwrap so callers
// only need to import this package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"
)

// Category classifies an error for logging, metrics and reporting.
type Category string

const (
	CategoryGeneric       Category = "generic"
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryDatabase      Category = "database"
	CategoryNotFound      Category = "not-found"
	CategoryNetwork       Category = "network"
	CategoryBudget        Category = "budget"
	CategoryAction        Category = "action"
	CategoryTimeout       Category = "timeout"
)

// EnhancedError wraps an error with a component, a category and free-form context.
type EnhancedError struct {
	Err       error
	Timestamp time.Time

	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string {
	return e.component
}

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category {
	return e.category
}

// GetContext returns a copy of the error context.
func (e *EnhancedError) GetContext() map[string]any {
	out := make(map[string]any, len(e.context))
	maps.Copy(out, e.context)
	return out
}

// Detail renders the error with its component and sorted context keys.
func (e *EnhancedError) Detail() string {
	var b strings.Builder
	if e.component != "" {
		fmt.Fprintf(&b, "[%s] ", e.component)
	}
	b.WriteString(e.Error())
	if len(e.context) > 0 {
		keys := make([]string, 0, len(e.context))
		for k := range e.context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.context[k])
		}
	}
	return b.String()
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a builder around an existing error.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts a builder around a formatted message. %w verbs are honored.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// NewStd creates a plain error, for package-level sentinels.
func NewStd(text string) error {
	return stderrors.New(text)
}

func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

func (b *ErrorBuilder) Category(category Category) *ErrorBuilder {
	b.category = category
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build returns the finished error. A nil wrapped error builds a generic one
// so a builder never yields an empty message.
func (b *ErrorBuilder) Build() *EnhancedError {
	err := b.err
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &EnhancedError{
		Err:       err,
		Timestamp: time.Now(),
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
}

// CategoryOf returns the category of the outermost EnhancedError in err's
// chain, or CategoryGeneric.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// ComponentOf returns the component of the outermost EnhancedError in err's chain.
func ComponentOf(err error) string {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.component
	}
	return ""
}

func Is(err, target error) bool { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Join(errs ...error) error      { return stderrors.Join(errs...) }
func Unwrap(err error) error        { return stderrors.Unwrap(err) }
