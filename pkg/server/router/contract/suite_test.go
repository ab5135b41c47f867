package contract

import (
	"testing"

	"github.com/nimburion/docrest/pkg/server/router"
	ginadapter "github.com/nimburion/docrest/pkg/server/router/gin"
	gorillaadapter "github.com/nimburion/docrest/pkg/server/router/gorilla"
)

func TestGinRouterContract(t *testing.T) {
	TestRouterContract(t, func() router.Router { return ginadapter.NewRouter() })
}

func TestGorillaRouterContract(t *testing.T) {
	TestRouterContract(t, func() router.Router { return gorillaadapter.NewRouter() })
}
