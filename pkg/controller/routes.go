package controller

import (
	"net/http"

	"github.com/nimburion/docrest/pkg/server/router"
)

// Operation names, used in route names, metrics and audit records.
const (
	OpCount             = "count"
	OpIndex             = "index"
	OpShow              = "show"
	OpCreate            = "create"
	OpUpdate            = "update"
	OpDestroy           = "destroy"
	OpMarkAsDeleted     = "markAsDeleted"
	OpBulkShow          = "bulkShow"
	OpBulkUpdate        = "bulkUpdate"
	OpBulkUpload        = "bulkUpload"
	OpBulkDestroy       = "bulkDestroy"
	OpBulkMarkAsDeleted = "bulkMarkAsDeleted"
	OpAggregate         = "aggregate"
)

// Operation is one entry of a resource's HTTP surface.
type Operation struct {
	Name    string
	Method  string
	Path    string
	Summary string
	Params  []ParamSpec
	Handler router.HandlerFunc
}

var (
	idParam  = ParamSpec{Name: "id", In: InPath, Type: TypeString, Required: true, Description: "document id"}
	idsParam = ParamSpec{Name: "ids", In: InPath, Type: TypeArray, Required: true, Description: "comma-separated document ids"}

	listParams = []ParamSpec{
		{Name: "filter", In: InQuery, Type: TypeString, Description: "JSON filter; \"/pattern/\" strings match case-insensitively"},
		{Name: "search", In: InQuery, Type: TypeString, Description: "full-text search"},
	}
	pageParams = []ParamSpec{
		{Name: "select", In: InQuery, Type: TypeArray, Description: "comma-separated fields to return"},
		{Name: "sort", In: InQuery, Type: TypeString, Description: "comma-separated fields, \"-field\" for descending"},
		{Name: "page", In: InQuery, Type: TypeInteger, Description: "1-based page number"},
		{Name: "count", In: InQuery, Type: TypeInteger, Description: "page size, -1 for no limit"},
		{Name: "meta", In: InQuery, Type: TypeBoolean, Description: "wrap the result in a metadata envelope"},
	}
)

func bodyParam(typ ParamType, description string) ParamSpec {
	return ParamSpec{Name: "body", In: InBody, Type: typ, Required: true, Description: description}
}

// paramSpecs returns the declared parameters of op.
func (r *Resource) paramSpecs(op string) []ParamSpec {
	switch op {
	case OpCount:
		return listParams
	case OpIndex:
		return append(append([]ParamSpec(nil), listParams...), pageParams...)
	case OpShow, OpDestroy, OpMarkAsDeleted:
		return []ParamSpec{idParam}
	case OpUpdate:
		return []ParamSpec{idParam, bodyParam(TypeObject, "fields to merge")}
	case OpBulkShow, OpBulkDestroy, OpBulkMarkAsDeleted:
		return []ParamSpec{idsParam}
	case OpBulkUpdate:
		return []ParamSpec{idsParam, bodyParam(TypeObject, "fields to merge into every document")}
	case OpCreate:
		return []ParamSpec{bodyParam(TypeObject, "a document or an array of documents")}
	case OpAggregate:
		return []ParamSpec{bodyParam(TypeArray, "aggregation pipeline")}
	case OpBulkUpload:
		return []ParamSpec{{Name: UploadField, In: InForm, Type: TypeFile, Required: true, Description: "CSV payload, first row holds field names"}}
	default:
		return nil
	}
}

// Operations returns the HTTP surface of the resource relative to the API
// root. Static segments come before parameters of the same depth so routers
// that match in registration order resolve them first.
func (r *Resource) Operations() []Operation {
	base := "/" + r.cfg.Name
	ops := []Operation{
		{Name: OpCount, Method: http.MethodGet, Path: base + "/count", Summary: "Count documents", Handler: r.Count},
		{Name: OpBulkMarkAsDeleted, Method: http.MethodDelete, Path: base + "/bulk/:ids/soft", Summary: "Soft-delete documents", Handler: r.BulkMarkAsDeleted},
		{Name: OpBulkShow, Method: http.MethodGet, Path: base + "/bulk/:ids", Summary: "Get documents by id", Handler: r.BulkShow},
		{Name: OpBulkUpdate, Method: http.MethodPut, Path: base + "/bulk/:ids", Summary: "Update documents by id", Handler: r.BulkUpdate},
		{Name: OpBulkDestroy, Method: http.MethodDelete, Path: base + "/bulk/:ids", Summary: "Delete documents by id", Handler: r.BulkDestroy},
		{Name: OpBulkUpload, Method: http.MethodPost, Path: base + "/upload", Summary: "Create documents from CSV", Handler: r.BulkUpload},
		{Name: OpAggregate, Method: http.MethodPost, Path: base + "/aggregate", Summary: "Run an aggregation pipeline", Handler: r.Aggregate},
		{Name: OpIndex, Method: http.MethodGet, Path: base, Summary: "List documents", Handler: r.Index},
		{Name: OpCreate, Method: http.MethodPost, Path: base, Summary: "Create documents", Handler: r.Create},
		{Name: OpMarkAsDeleted, Method: http.MethodDelete, Path: base + "/:id/soft", Summary: "Soft-delete a document", Handler: r.MarkAsDeleted},
		{Name: OpShow, Method: http.MethodGet, Path: base + "/:id", Summary: "Get a document", Handler: r.Show},
		{Name: OpUpdate, Method: http.MethodPut, Path: base + "/:id", Summary: "Update a document", Handler: r.Update},
		{Name: OpDestroy, Method: http.MethodDelete, Path: base + "/:id", Summary: "Delete a document", Handler: r.Destroy},
	}
	for i := range ops {
		ops[i].Params = r.paramSpecs(ops[i].Name)
	}
	return ops
}

// Routes returns the route table of the resource.
func (r *Resource) Routes(middleware ...router.MiddlewareFunc) []router.Route {
	ops := r.Operations()
	routes := make([]router.Route, len(ops))
	for i, op := range ops {
		routes[i] = router.Route{
			Name:       r.cfg.Name + "." + op.Name,
			Method:     op.Method,
			Path:       op.Path,
			Handler:    op.Handler,
			Middleware: middleware,
		}
	}
	return routes
}
