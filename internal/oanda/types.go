package oanda

// Wire types for the v20 REST API. OANDA serializes every numeric field as a
// string; conversion to domain types happens in client.go.

type errorBody struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type accountSummaryResponse struct {
	Account struct {
		Balance         string `json:"balance"`
		NAV             string `json:"NAV"`
		UnrealizedPL    string `json:"unrealizedPL"`
		MarginUsed      string `json:"marginUsed"`
		MarginAvailable string `json:"marginAvailable"`
		OpenTradeCount  int    `json:"openTradeCount"`
	} `json:"account"`
	LastTransactionID string `json:"lastTransactionID"`
}

type pricingResponse struct {
	Prices []struct {
		Instrument string `json:"instrument"`
		Time       string `json:"time"`
		Bids       []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
		Tradeable bool `json:"tradeable"`
	} `json:"prices"`
}

type clientExtensions struct {
	ID string `json:"id,omitempty"`
}

type limitOrder struct {
	Type             string            `json:"type"`
	Instrument       string            `json:"instrument"`
	Units            string            `json:"units"`
	Price            string            `json:"price"`
	TimeInForce      string            `json:"timeInForce"`
	PositionFill     string            `json:"positionFill"`
	ClientExtensions *clientExtensions `json:"clientExtensions,omitempty"`
}

type orderCreateRequest struct {
	Order limitOrder `json:"order"`
}

type orderCreateResponse struct {
	OrderCreateTransaction struct {
		ID   string `json:"id"`
		Time string `json:"time"`
	} `json:"orderCreateTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
	OrderFillTransaction *struct {
		ID string `json:"id"`
	} `json:"orderFillTransaction"`
}

type pendingOrdersResponse struct {
	Orders []struct {
		ID               string            `json:"id"`
		Type             string            `json:"type"`
		Instrument       string            `json:"instrument"`
		Units            string            `json:"units"`
		Price            string            `json:"price"`
		State            string            `json:"state"`
		CreateTime       string            `json:"createTime"`
		ClientExtensions *clientExtensions `json:"clientExtensions"`
	} `json:"orders"`
}

type openTradesResponse struct {
	Trades []struct {
		ID               string            `json:"id"`
		Instrument       string            `json:"instrument"`
		Price            string            `json:"price"`
		CurrentUnits     string            `json:"currentUnits"`
		UnrealizedPL     string            `json:"unrealizedPL"`
		OpenTime         string            `json:"openTime"`
		ClientExtensions *clientExtensions `json:"clientExtensions"`
	} `json:"trades"`
}
