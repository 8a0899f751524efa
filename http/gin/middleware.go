// Package gin adapts the x402 gate to Gin. Demand, verification and
// settlement are delegated to the gate in the parent http package.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	x402http "github.com/vitwit/x402gate/http"
	"github.com/vitwit/x402gate/types"
)

// ReceiptKey is the gin context key holding the types.SettlementReceipt of a
// paid request.
const ReceiptKey = "x402_receipt"

// Middleware gates the handler chain with gate. Requests the gate rejects
// are aborted with the gate's response already written.
//
//	r := gin.Default()
//	r.Use(x402gin.Middleware(gate))
//	r.GET("/premium", func(c *gin.Context) {
//	    receipt, _ := x402gin.Receipt(c)
//	    c.JSON(200, gin.H{"txId": receipt.TxID})
//	})
func Middleware(gate *x402http.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		forwarded := false
		gate.Wrap(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			forwarded = true
			c.Request = r
			if receipt, ok := x402http.ReceiptFromContext(r.Context()); ok {
				c.Set(ReceiptKey, receipt)
			}
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if !forwarded {
			c.Abort()
		}
	}
}

// Receipt returns the receipt stored by Middleware.
func Receipt(c *gin.Context) (types.SettlementReceipt, bool) {
	v, ok := c.Get(ReceiptKey)
	if !ok {
		return types.SettlementReceipt{}, false
	}
	receipt, ok := v.(types.SettlementReceipt)
	return receipt, ok
}
