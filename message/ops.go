package message

import "math/big"

const (
	OpSetJettonMinter                  = 0xf9e4410c
	OpUpdateSupportedAsset             = 0x831b84ee
	OpUploadPriceLocal                 = 0xa8266aea
	OpRepay                            = 0x81c07b20
	OpLiquidate                        = 0x7df2105d
	OpDeposit                          = 0x9843c87a
	OpPrintUSD                         = 0x75e4e458
	OpWithdraw                         = 0x153d36db
	OpTransferNotification             = 0x7362d09c
	OpStderr                           = 0x11923a22
	OpFreeCustody                      = 0xcf9d3024
	OpUpgrade                          = 0x7b706781
	OpExtractTON                       = 0x86003632
	OpExtractProtocolAccruedProfits    = 0x27685417
	OpUploadExchangeRate               = 0xd4364ee5
	OpChangeOwner                      = 0x19c2fbd5
	OpChangeProtocolAccount            = 0x946e80c1
	OpChangeUploadPriceSigner          = 0xf1c69c76
	OpChangeUploadPriceSignerThreshold = 0x6c9caac2
	OpChangeApy                        = 0x2bf68fb5
	OpChangePositionSafeLine           = 0x9342680a
	OpChangePositionLiquidationLine    = 0x23bec1b6
	OpChangeLiquidationPenalty         = 0x3390c577
	OpChangeLiquidationPenaltySplit    = 0xe81c99a5
	OpJettonTransfer                   = 0x0f8a7ea5
)

// Fees in nanotons.
const (
	FeeUploadPrice        = 80_000_000
	FeeDeposit            = 500_000_000
	FeeMint               = 100_000_000
	FeePrint              = 500_000_000
	FeeJettonTransfer     = 50_000_000
	FeeJettonBurnInternal = 50_000_000
	FeeLiquidateBase      = 500_000_000
	FeeFreeCustody        = 150_000_000
	FeeWithdraw           = 200_000_000
	FeeRepay              = 500_000_000
	FeeExtractAccrued     = 100_000_000
)

type AmountType uint8

const (
	// AmountTypeCapitalMax caps the capital transferred to the contract.
	AmountTypeCapitalMax AmountType = 0
	// AmountTypeValueMin asks for at least the given collateral value.
	AmountTypeValueMin AmountType = 1
)

// CalcLiquidateFee is the TON the contract needs forwarded to process a
// liquidation. The contract currently charges a flat fee regardless of how
// many collateral assets are requested.
func CalcLiquidateFee(numCollaterals int) *big.Int {
	return big.NewInt(FeeLiquidateBase)
}

// RequiredLiquidationValue is the smallest value a liquidation transfer may
// carry.
func RequiredLiquidationValue(numCollaterals int) *big.Int {
	fee := CalcLiquidateFee(numCollaterals)
	return fee.Add(fee, big.NewInt(FeeJettonTransfer))
}
