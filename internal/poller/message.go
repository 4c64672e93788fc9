package poller

import (
    "fmt"

    "pricewatch/internal/alert"
    "pricewatch/internal/format"
    "pricewatch/internal/notify"
)

// Message renders the notification for a triggered alert along with its
// follow-up buttons: view the price, remove the alert, or set a new one.
func Message(a alert.Alert, price float64) (string, [][]notify.Action) {
    text := fmt.Sprintf("Price alert triggered (%s)\n%s is %s\nTarget was %s %s",
        format.ShortID(a.ID), a.Ticker, format.USD(price), a.Direction, format.USD(a.TargetPrice))

    actions := [][]notify.Action{
        {
            {Text: "View Price", Data: "px:" + a.Ticker},
            {Text: "Remove Alert", Data: "ar:" + a.ID},
        },
        {
            {Text: "New Alert ↑", Data: "aa:" + a.Ticker + ":above"},
            {Text: "New Alert ↓", Data: "aa:" + a.Ticker + ":below"},
        },
    }
    return text, actions
}
