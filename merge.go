// Merge assembler for rsgo
// 静态扇入：订阅时即固定的有限源集合，复用FlatMap的排水与错误聚合核心
package rsgo

// identityFlowableMapper 把已经是Flowable的数据项原样取出
func identityFlowableMapper(value interface{}) (Flowable, error) {
	source, ok := value.(Flowable)
	if !ok || source == nil {
		return nil, ErrNilValue
	}
	return source, nil
}

// mergeSources 把源集合装入切片源后交给FlatMap核心
func mergeSources(sources []Flowable, delayErrors bool, options []Option) Flowable {
	switch len(sources) {
	case 0:
		return FlowableEmpty()
	case 1:
		return sources[0]
	}

	values := make([]interface{}, len(sources))
	for i, source := range sources {
		values[i] = source
	}

	opts := append([]Option{WithDelayErrors(delayErrors)}, options...)
	return flowableFlatMap(
		FlowableFromSlice(values),
		identityFlowableMapper,
		len(sources),
		opts...,
	)
}

// FlowableMerge 并发合并固定的源集合；只保证各源内部的相对顺序
func FlowableMerge(sources ...Flowable) Flowable {
	return mergeSources(sources, false, nil)
}

// FlowableMergeDelayError 并发合并并把错误延迟到全部数据消费完毕
func FlowableMergeDelayError(sources ...Flowable) Flowable {
	return mergeSources(sources, true, nil)
}

// FlowableMergeWithOptions 携带预取等选项的合并
func FlowableMergeWithOptions(sources []Flowable, options ...Option) Flowable {
	return mergeSources(sources, false, options)
}
