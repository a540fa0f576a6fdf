package tiko

import (
	"context"
	"fmt"
)

// Operation names used in OperationError and logs.
const (
	OpFetchState         = "fetch_state"
	OpFetchConsumption   = "fetch_consumption"
	OpSetRoomMode        = "set_room_mode"
	OpSetRoomTemperature = "set_room_temperature"
)

// FetchState reads every property and room.
//
// Parameters:
//   - ctx: Bounds the request
//   - tokens: Current session; the zero value is rejected without I/O
//
// Returns:
//   - *Snapshot: Validated state, stamped with the fetch time
//   - TokenDelta: Cookies refreshed by the vendor
//   - error: *AuthError (not authenticated) or *OperationError
func (c *Client) FetchState(ctx context.Context, tokens SessionTokens) (*Snapshot, TokenDelta, error) {
	if !tokens.Valid() {
		return nil, TokenDelta{}, notAuthenticated()
	}

	resp, err := c.call(ctx, OpFetchState, queryGetData, nil, tokens)
	if err != nil {
		return nil, TokenDelta{}, err
	}

	var data struct {
		Properties *[]Property `json:"properties"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, resp.Delta, malformed(OpFetchState, err)
	}
	if data.Properties == nil {
		return nil, resp.Delta, malformed(OpFetchState, fmt.Errorf("missing properties"))
	}

	return &Snapshot{
		Properties: *data.Properties,
		FetchedAt:  c.now(),
	}, resp.Delta, nil
}

// FetchConsumption reads per-room energy over a window.
//
// The window's Resolution is sent as-is; build windows with NewWindow or
// Period.Window so it matches the window length.
func (c *Client) FetchConsumption(ctx context.Context, tokens SessionTokens, window Window) (*ConsumptionSnapshot, TokenDelta, error) {
	if !tokens.Valid() {
		return nil, TokenDelta{}, notAuthenticated()
	}
	if window.End.Before(window.Start) {
		return nil, TokenDelta{}, fmt.Errorf("%w: end before start", ErrInvalidWindow)
	}

	resp, err := c.call(ctx, OpFetchConsumption, queryGetConsumptionData, window.variables(), tokens)
	if err != nil {
		return nil, TokenDelta{}, err
	}

	var data struct {
		Properties *[]struct {
			ID              ID `json:"id"`
			FastConsumption *struct {
				RoomsConsumption []RoomConsumption `json:"roomsConsumption"`
			} `json:"fastConsumption"`
		} `json:"properties"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, resp.Delta, malformed(OpFetchConsumption, err)
	}
	if data.Properties == nil {
		return nil, resp.Delta, malformed(OpFetchConsumption, fmt.Errorf("missing properties"))
	}

	snap := &ConsumptionSnapshot{
		Properties: make([]PropertyConsumption, 0, len(*data.Properties)),
		Window:     window,
		FetchedAt:  c.now(),
	}
	for _, p := range *data.Properties {
		pc := PropertyConsumption{PropertyID: p.ID}
		if p.FastConsumption != nil {
			pc.Rooms = p.FastConsumption.RoomsConsumption
		}
		snap.Properties = append(snap.Properties, pc)
	}

	return snap, resp.Delta, nil
}

// SetRoomMode activates a preset on a room. ModeNone clears all presets.
//
// Returns:
//   - *RoomModeResult: The room's mode flags as echoed by the vendor
//   - TokenDelta: Cookies refreshed by the vendor
//   - error: ErrInvalidMode, *AuthError or *OperationError
func (c *Client) SetRoomMode(ctx context.Context, tokens SessionTokens, propertyID, roomID ID, mode Mode) (*RoomModeResult, TokenDelta, error) {
	if !mode.Valid() {
		return nil, TokenDelta{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if !tokens.Valid() {
		return nil, TokenDelta{}, notAuthenticated()
	}

	resp, err := c.call(ctx, OpSetRoomMode, mutationSetRoomMode, map[string]any{
		"propertyId": int64(propertyID),
		"roomId":     int64(roomID),
		"mode":       mode.wireValue(),
	}, tokens)
	if err != nil {
		return nil, TokenDelta{}, err
	}

	var data struct {
		SetRoomMode *RoomModeResult `json:"setRoomMode"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, resp.Delta, malformed(OpSetRoomMode, err)
	}
	if data.SetRoomMode == nil {
		return nil, resp.Delta, malformed(OpSetRoomMode, fmt.Errorf("missing setRoomMode"))
	}

	return data.SetRoomMode, resp.Delta, nil
}

// SetRoomTemperature sets a room's adjusted target temperature in °C.
// The value is rounded to TemperatureStep and must lie within
// [MinTemperature, MaxTemperature].
func (c *Client) SetRoomTemperature(ctx context.Context, tokens SessionTokens, propertyID, roomID ID, celsius float64) (*TemperatureResult, TokenDelta, error) {
	temperature, err := NormalizeTemperature(celsius)
	if err != nil {
		return nil, TokenDelta{}, err
	}
	if !tokens.Valid() {
		return nil, TokenDelta{}, notAuthenticated()
	}

	resp, err := c.call(ctx, OpSetRoomTemperature, mutationSetRoomTemperature, map[string]any{
		"propertyId":  int64(propertyID),
		"roomId":      int64(roomID),
		"temperature": temperature,
	}, tokens)
	if err != nil {
		return nil, TokenDelta{}, err
	}

	var data struct {
		SetRoomAdjustTemperature *TemperatureResult `json:"setRoomAdjustTemperature"`
	}
	if err := decodeData(resp.Data, &data); err != nil {
		return nil, resp.Delta, malformed(OpSetRoomTemperature, err)
	}
	if data.SetRoomAdjustTemperature == nil {
		return nil, resp.Delta, malformed(OpSetRoomTemperature, fmt.Errorf("missing setRoomAdjustTemperature"))
	}

	return data.SetRoomAdjustTemperature, resp.Delta, nil
}

// call sends one operation and converts transport and GraphQL failures
// into OperationError.
func (c *Client) call(ctx context.Context, op, document string, variables map[string]any, tokens SessionTokens) (*Response, error) {
	resp, err := c.Send(ctx, document, variables, tokens)
	if err != nil {
		return nil, &OperationError{Op: op, Kind: OpTransport, Err: err}
	}
	if resp.HasErrors() {
		c.logWarn("graphql errors returned", "operation", op, "errors", errorMessages(resp.Errors))
		return nil, &OperationError{Op: op, Kind: OpServer, Messages: errorMessages(resp.Errors)}
	}
	return resp, nil
}

func notAuthenticated() error {
	return &AuthError{Kind: AuthNotAuthenticated, Err: ErrNotAuthenticated}
}

func malformed(op string, err error) error {
	return &OperationError{Op: op, Kind: OpMalformed, Err: err}
}
