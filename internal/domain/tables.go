package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	// WhatsApp
	&WaAgent{},
	&WaSession{},
	&WaMessageLog{},
}
