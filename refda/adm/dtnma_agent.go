package adm

import (
	"time"

	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/amm"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/ari"
	"github.com/JHUAPL-DTNMA/dtnma-tools-sub003/cmn/log"
)

// agentVersion is the fixed value //ietf/dtnma-agent/EDD/sw-version
// reports; it has no tie to the module's own build version since it
// names the dtnma-agent ADM's own revision, not the binary's.
const agentVersion = "0.0.0"

var dtnmaAgentModel = ari.TextSeg("dtnma-agent")

// dtnmaAgentNamespace is ietf/dtnma-agent: the agent's own
// self-description surface (software version, uptime, and a heartbeat
// CTRL/TBR pair used as the worked end-to-end example).
func dtnmaAgentNamespace() *amm.Namespace {
	ns := amm.NewNamespace(orgIETF, dtnmaAgentModel)

	edd := ns.Container(ari.TypeEDD)
	edd.Register(amm.NewEddObj(ari.TextSeg("sw-version"), nil, mustBuiltin(ari.TypeTextstr),
		func(ctx *amm.ProduceContext) (ari.Value, error) {
			return ari.Text(agentVersion), nil
		}))
	edd.Register(amm.NewEddObj(ari.TextSeg("uptime"), nil, mustBuiltin(ari.TypeTD),
		func(ctx *amm.ProduceContext) (ari.Value, error) {
			return ari.TD(ari.TDRel(time.Since(agentStartTime))), nil
		}))

	ctrl := ns.Container(ari.TypeCTRL)
	ctrl.Register(amm.NewCtrlObj(ari.TextSeg("heartbeat"), nil, nil,
		func(ctx amm.ExecContext) (ari.Value, error) {
			log.Debugf("refda/adm: heartbeat fired")
			return ari.Undefined(), nil
		}))

	tbr := ns.Container(ari.TypeTBR)
	heartbeatPath := ari.ObjectPath{Org: orgIETF, Model: dtnmaAgentModel, ObjType: ari.TypeCTRL, ObjID: ari.TextSeg("heartbeat")}
	tbr.Register(amm.NewTbrObj(ari.TextSeg("heartbeat-tbr"), heartbeatPath, ari.Undefined(), ari.TDRel(5*time.Minute), 0))

	return ns
}
