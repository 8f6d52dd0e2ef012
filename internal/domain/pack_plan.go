// SPDX-License-Identifier: Apache-2.0

package domain

import "github.com/shopspring/decimal"

type PackPlan struct {
	PacketCount    int64           `json:"packet_count"`
	BoxCount       int64           `json:"box_count"`
	ResidualKg     decimal.Decimal `json:"residual_kg"`
	NetWeightKg    decimal.Decimal `json:"net_weight_kg"`
	GrossWeightKg  decimal.Decimal `json:"gross_weight_kg"`
	PacketUnitID   string          `json:"packet_unit_id"`
	BoxUnitID      string          `json:"box_unit_id,omitempty"`
	LastPacketFull bool            `json:"last_packet_full"`
}

// ComputePackPlan fills packets to capacity and packets into boxes.
//
// All arithmetic stays in decimal so a 0.1kg residual is exactly 0.1kg.
// The residual is the product weight in the final, possibly partial packet.
// Gross weight is net plus packet tare times packet count plus box tare
// times box count. The box unit is optional: without one, box count is zero
// and only packet tare contributes. Units per box lives on the packet
// (how many of this packet fill one box), so planning against a box
// requires a packet with a positive units_per_box.
func ComputePackPlan(netKg decimal.Decimal, packet PackagingUnitRecord, box *PackagingUnitRecord) (PackPlan, error) {
	if netKg.Sign() <= 0 {
		return PackPlan{}, ErrInvalidQuantity
	}
	if packet.Kind != PackagingPacket || packet.CapacityKg.Sign() <= 0 {
		return PackPlan{}, ErrInvalidPackaging
	}

	packets := netKg.Div(packet.CapacityKg).Ceil().IntPart()
	filled := packet.CapacityKg.Mul(decimal.NewFromInt(packets - 1))
	residual := netKg.Sub(filled)

	plan := PackPlan{
		PacketCount:    packets,
		ResidualKg:     residual,
		NetWeightKg:    netKg,
		PacketUnitID:   packet.ID.String(),
		LastPacketFull: residual.Equal(packet.CapacityKg),
	}

	gross := netKg.Add(packet.TareKg.Mul(decimal.NewFromInt(packets)))

	if box != nil {
		if box.Kind != PackagingBox || packet.UnitsPerBox <= 0 {
			return PackPlan{}, ErrInvalidPackaging
		}
		perBox := decimal.NewFromInt(int64(packet.UnitsPerBox))
		boxes := decimal.NewFromInt(packets).Div(perBox).Ceil().IntPart()
		plan.BoxCount = boxes
		plan.BoxUnitID = box.ID.String()
		gross = gross.Add(box.TareKg.Mul(decimal.NewFromInt(boxes)))
	}

	plan.GrossWeightKg = gross
	return plan, nil
}
