package dataset

import (
	"fmt"

	"github.com/backkem/thread/pkg/tlv"
)

// MeshCoP TLV types.
const (
	TypeChannel               tlv.Type = 0
	TypePanID                 tlv.Type = 1
	TypeExtendedPanID         tlv.Type = 2
	TypeNetworkName           tlv.Type = 3
	TypePSKc                  tlv.Type = 4
	TypeNetworkKey            tlv.Type = 5
	TypeNetworkKeySequence    tlv.Type = 6
	TypeMeshLocalPrefix       tlv.Type = 7
	TypeSteeringData          tlv.Type = 8
	TypeBorderAgentLocator    tlv.Type = 9
	TypeCommissionerID        tlv.Type = 10
	TypeCommissionerSessionID tlv.Type = 11
	TypeSecurityPolicy        tlv.Type = 12
	TypeGet                   tlv.Type = 13
	TypeActiveTimestamp       tlv.Type = 14
	TypeCommissionerUDPPort   tlv.Type = 15
	TypeState                 tlv.Type = 16
	TypeJoinerUDPPort         tlv.Type = 18
	TypePendingTimestamp      tlv.Type = 51
	TypeDelayTimer            tlv.Type = 52
	TypeChannelMask           tlv.Type = 53
	TypeCount                 tlv.Type = 54
	TypePeriod                tlv.Type = 55
	TypeScanDuration          tlv.Type = 56
	TypeEnergyList            tlv.Type = 57
	TypeDiscoveryRequest      tlv.Type = 128
	TypeDiscoveryResponse     tlv.Type = 129
)

var typeNames = map[tlv.Type]string{
	TypeChannel:               "Channel",
	TypePanID:                 "PanID",
	TypeExtendedPanID:         "ExtendedPanID",
	TypeNetworkName:           "NetworkName",
	TypePSKc:                  "PSKc",
	TypeNetworkKey:            "NetworkKey",
	TypeNetworkKeySequence:    "NetworkKeySequence",
	TypeMeshLocalPrefix:       "MeshLocalPrefix",
	TypeSteeringData:          "SteeringData",
	TypeBorderAgentLocator:    "BorderAgentLocator",
	TypeCommissionerID:        "CommissionerID",
	TypeCommissionerSessionID: "CommissionerSessionID",
	TypeSecurityPolicy:        "SecurityPolicy",
	TypeGet:                   "Get",
	TypeActiveTimestamp:       "ActiveTimestamp",
	TypeCommissionerUDPPort:   "CommissionerUDPPort",
	TypeState:                 "State",
	TypeJoinerUDPPort:         "JoinerUDPPort",
	TypePendingTimestamp:      "PendingTimestamp",
	TypeDelayTimer:            "DelayTimer",
	TypeChannelMask:           "ChannelMask",
	TypeCount:                 "Count",
	TypePeriod:                "Period",
	TypeScanDuration:          "ScanDuration",
	TypeEnergyList:            "EnergyList",
	TypeDiscoveryRequest:      "DiscoveryRequest",
	TypeDiscoveryResponse:     "DiscoveryResponse",
}

// TypeName returns a readable name for a MeshCoP TLV type.
func TypeName(t tlv.Type) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TLV(%d)", uint8(t))
}

// MandatoryTypes is the set of TLVs every active dataset carries, in
// canonical encoding order.
var MandatoryTypes = []tlv.Type{
	TypeChannel,
	TypePanID,
	TypeExtendedPanID,
	TypeNetworkName,
	TypePSKc,
	TypeNetworkKey,
	TypeMeshLocalPrefix,
	TypeSecurityPolicy,
	TypeActiveTimestamp,
}

// IsMandatory reports whether t is in MandatoryTypes.
func IsMandatory(t tlv.Type) bool {
	for _, m := range MandatoryTypes {
		if m == t {
			return true
		}
	}
	return false
}

// Kind selects the active or pending dataset.
type Kind uint8

const (
	KindActive Kind = iota
	KindPending
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindActive:
		return "active"
	case KindPending:
		return "pending"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}
