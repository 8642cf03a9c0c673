package fix

// SOH is the FIX field delimiter.
const SOH = byte(0x01)

// TimeFormat is the UTC timestamp layout for SendingTime and TransactTime.
const TimeFormat = "20060102-15:04:05.000"

// Header and trailer tags.
const (
	TagBeginString  = 8
	TagBodyLength   = 9
	TagCheckSum     = 10
	TagMsgSeqNum    = 34
	TagMsgType      = 35
	TagPossDupFlag  = 43
	TagSenderCompID = 49
	TagTargetCompID = 56
	TagSendingTime  = 52
)

// Session-level tags.
const (
	TagBeginSeqNo         = 7
	TagEndSeqNo           = 16
	TagNewSeqNo           = 36
	TagText               = 58
	TagEncryptMethod      = 98
	TagHeartBtInt         = 108
	TagTestReqID          = 112
	TagGapFillFlag        = 123
	TagRefSeqNum          = 45
	TagRefMsgType         = 372
	TagNextExpectedSeqNum = 789
)

// Application-level tags.
const (
	TagAvgPx            = 6
	TagClOrdID          = 11
	TagCumQty           = 14
	TagExecID           = 17
	TagHandlInst        = 21
	TagLastPx           = 31
	TagLastShares       = 32
	TagOrderID          = 37
	TagOrderQty         = 38
	TagOrdStatus        = 39
	TagOrdType          = 40
	TagOrigClOrdID      = 41
	TagPrice            = 44
	TagSide             = 54
	TagSymbol           = 55
	TagTimeInForce      = 59
	TagTransactTime     = 60
	TagOrdRejReason     = 103
	TagExecType         = 150
	TagLeavesQty        = 151
	TagCxlRejResponseTo = 434
)

// Message types.
const (
	MsgTypeHeartbeat          = "0"
	MsgTypeTestRequest        = "1"
	MsgTypeResendRequest      = "2"
	MsgTypeReject             = "3"
	MsgTypeSequenceReset      = "4"
	MsgTypeLogout             = "5"
	MsgTypeExecutionReport    = "8"
	MsgTypeOrderCancelReject  = "9"
	MsgTypeLogon              = "A"
	MsgTypeNewOrderSingle     = "D"
	MsgTypeOrderCancelRequest = "F"
	MsgTypeOrderCancelReplace = "G"
	MsgTypeBusinessReject     = "j"
)

var msgTypeNames = map[string]string{
	MsgTypeHeartbeat:          "Heartbeat",
	MsgTypeTestRequest:        "TestRequest",
	MsgTypeResendRequest:      "ResendRequest",
	MsgTypeReject:             "Reject",
	MsgTypeSequenceReset:      "SequenceReset",
	MsgTypeLogout:             "Logout",
	MsgTypeExecutionReport:    "ExecutionReport",
	MsgTypeOrderCancelReject:  "OrderCancelReject",
	MsgTypeLogon:              "Logon",
	MsgTypeNewOrderSingle:     "NewOrderSingle",
	MsgTypeOrderCancelRequest: "OrderCancelRequest",
	MsgTypeOrderCancelReplace: "OrderCancelReplaceRequest",
	MsgTypeBusinessReject:     "BusinessMessageReject",
}

// MsgTypeName returns a human readable name for logging.
func MsgTypeName(msgType string) string {
	if name, ok := msgTypeNames[msgType]; ok {
		return name
	}
	return "MsgType(" + msgType + ")"
}

// IsAdmin reports whether the message type is session-level rather than
// application-level.
func IsAdmin(msgType string) bool {
	switch msgType {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest,
		MsgTypeReject, MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	default:
		return false
	}
}
