package routingpool

type RoutingPool interface {
	Start() error
	// Stop 等待所有worker退出，返回第一个worker错误
	Stop() error
}
