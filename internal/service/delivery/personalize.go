package delivery

import (
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/mailing-scheduler/internal/model"
)

const defaultCustomerName = "Cliente"

// Render replaces every {{token}} present in vars. Unknown tokens stay verbatim.
func Render(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// SubscriberVars is the variable set every email gets.
func SubscriberVars(sub *model.Subscriber, now time.Time) map[string]string {
	return map[string]string{
		"subscriberId": strconv.FormatInt(sub.ID, 10),
		"firstName":    sub.FirstName,
		"lastName":     sub.LastName,
		"email":        sub.Email,
		"customerName": displayName("", sub),
		"currentDate":  now.Format("02/01/2006"),
		"currentYear":  strconv.Itoa(now.Year()),
	}
}

// AutomationVars adds the trigger fields of an automation to the subscriber set.
func AutomationVars(sub *model.Subscriber, ts *model.TriggerSettings, now time.Time) map[string]string {
	vars := SubscriberVars(sub, now)
	vars["sourceEventId"] = ts.SourceEventID
	vars["customerName"] = displayName(ts.CustomerName, sub)
	if ts.OrderID > 0 {
		vars["orderId"] = strconv.FormatInt(ts.OrderID, 10)
	}
	return vars
}

// StockVars adds the product fields of a stock request to the subscriber set.
func StockVars(sub *model.Subscriber, req *model.StockRequest, now time.Time) map[string]string {
	vars := SubscriberVars(sub, now)
	vars["productName"] = req.ProductName
	vars["productSku"] = req.ProductSKU
	vars["variant"] = model.VariantLabel(req.Variant)
	vars["productId"] = strconv.FormatInt(req.ProductID, 10)
	return vars
}

func displayName(preferred string, sub *model.Subscriber) string {
	if name := strings.TrimSpace(preferred); name != "" {
		return name
	}
	if name := strings.TrimSpace(sub.FirstName); name != "" {
		return name
	}
	return defaultCustomerName
}
